// staking-cli is a command-line client for a stakingd node.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Klingon-tech/klingnet-pos/config"
	"github.com/Klingon-tech/klingnet-pos/internal/rpc"
	"github.com/Klingon-tech/klingnet-pos/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-pos/internal/wallet"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	rpcURL := ""
	dataDir := defaultDataDir()
	network := "mainnet"

	// Scan for --rpc, --datadir and --network before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	cfg := config.Default(config.NetworkType(network))
	cfg.DataDir = dataDir
	if cfg.Network == config.Testnet {
		types.SetAddressPrefix(types.TestnetPrefix)
	} else {
		types.SetAddressPrefix(types.MainnetPrefix)
	}
	if rpcURL == "" {
		rpcURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.RPC.Port)
	}

	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := rpcclient.New(rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(client)
	case "header":
		cmdHeader(client, cmdArgs)
	case "balance":
		cmdBalance(client, cmdArgs)
	case "staking":
		cmdStaking(client, cmdArgs)
	case "evidence":
		cmdEvidence(client, cmdArgs)
	case "gov":
		cmdGov(client, cmdArgs)
	case "boost":
		cmdBoost(client, cmdArgs)
	case "keyfile":
		cmdKeyfile(cfg, cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: staking-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         RPC endpoint (default: local node for --network)
  --datadir <path>    Data directory (default: ~/.klingnet-pos)
  --network <net>     mainnet (default) or testnet

Commands:
  status                          Show chain and staking status
  header <height>                 Show a block header
  balance <address>               Show address balance

  staking info [address]          Show network or address staking info
  staking validators              List stake positions
  staking ban <address>           Show ban status
  staking enable                  Turn staking on
  staking disable                 Turn staking off
  staking add --address <a> --amount <amt>
                                  Stake coins
  staking update --address <a> --amount <amt>
                                  Change the staked amount
  staking remove --address <a>    Withdraw a stake position
  staking delegate --owner <a> --staker <a> [--expiry <unix>]
                                  Let another key stake for an owner
  staking revoke --owner <a>      End an owner's delegation

  evidence submit --kind <k> [--validator <a>] [--block <hash>] [--proof <hex>]
                                  Submit misbehaviour evidence
  evidence list [validator]       List accepted evidence
  evidence report-inactivity <validator>
                                  Report an inactive validator

  gov list [state...]             List proposals
  gov result <id>                 Show the current tally
  gov create --proposer <a> --kind <k> --title <t> [--desc <d>] [--param key=value ...]
                                  Create a proposal
  gov vote --id <id> --voter <a> [--no]
                                  Vote on a proposal
  gov execute <id>                Execute a passed proposal
  gov cancel --id <id> --proposer <a>
                                  Cancel a proposal

  boost add --nft <id> --owner <a> --multiplier <bps> [--start <unix>] [--end <unix>] [--kind <k>]
                                  Register an NFT boost
  boost remove <nft>              Remove an NFT boost
  boost list [owner]              List boosts

  keyfile create [--accounts <n>] Create the staking key file
  keyfile import --mnemonic "..." [--accounts <n>]
                                  Create the key file from a mnemonic
  keyfile show                    Show key file addresses
`)
}

// ── status ───────────────────────────────────────────────────────────────

func cmdStatus(client *rpcclient.Client) {
	info, err := client.ChainInfo()
	if err != nil {
		fatal("chain_getInfo: %v", err)
	}
	st, err := client.StakingInfo("")
	if err != nil {
		fatal("staking_getInfo: %v", err)
	}

	fmt.Printf("Chain:          %s (%s)\n", info.ChainName, info.ChainID)
	fmt.Printf("Height:         %d\n", info.Height)
	fmt.Printf("Tip:            %s\n", info.TipHash)
	fmt.Printf("Tip time:       %s\n", time.Unix(int64(info.TipTime), 0).UTC().Format(time.RFC3339))
	fmt.Printf("Supply:         %s / %s %s\n", formatAmount(info.TotalSupply), formatAmount(info.MaxSupply), info.Symbol)
	fmt.Printf("Staking:        %v\n", st.Enabled)
	fmt.Printf("Validators:     %d\n", st.ValidatorCount)
	fmt.Printf("Total stake:    %s\n", formatAmount(st.TotalStake))
	fmt.Printf("Eligible stake: %s\n", formatAmount(st.EligibleStake))
	fmt.Printf("Difficulty:     %s\n", st.Difficulty)
	if st.Producer != nil {
		fmt.Printf("Producing:      %v (%d blocks accepted, %d failures)\n",
			st.Producing, st.Producer.BlocksAccepted, st.Producer.Failures)
	}
}

func cmdHeader(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: staking-cli header <height>")
	}
	height, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fatal("invalid height: %v", err)
	}
	hdr, err := client.Header(height)
	if err != nil {
		fatal("chain_getHeader: %v", err)
	}
	printJSON(hdr)
}

func cmdBalance(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: staking-cli balance <address>")
	}
	bal, err := client.Balance(args[0])
	if err != nil {
		fatal("chain_getBalance: %v", err)
	}
	fmt.Printf("Address:   %s\n", bal.Address)
	fmt.Printf("Balance:   %s\n", formatAmount(bal.Balance))
	fmt.Printf("Staked:    %s\n", formatAmount(bal.Staked))
	fmt.Printf("Available: %s\n", formatAmount(bal.Available))
}

// ── staking ──────────────────────────────────────────────────────────────

func cmdStaking(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: staking-cli staking <info|validators|ban|enable|disable|add|remove> [flags]")
	}

	switch args[0] {
	case "info":
		addr := ""
		if len(args) > 1 {
			addr = args[1]
		}
		info, err := client.StakingInfo(addr)
		if err != nil {
			fatal("staking_getInfo: %v", err)
		}
		printJSON(info)
	case "validators":
		cmdStakingValidators(client)
	case "ban":
		if len(args) < 2 {
			fatal("Usage: staking-cli staking ban <address>")
		}
		st, err := client.BanStatus(args[1])
		if err != nil {
			fatal("staking_getBanStatus: %v", err)
		}
		switch {
		case !st.Banned:
			fmt.Printf("%s is not banned\n", st.Address)
		case st.Permanent:
			fmt.Printf("%s is banned permanently\n", st.Address)
		default:
			fmt.Printf("%s is banned until %s\n", st.Address,
				time.Unix(int64(st.Until), 0).UTC().Format(time.RFC3339))
		}
	case "enable", "disable":
		on, err := client.SetStaking(args[0] == "enable")
		if err != nil {
			fatal("staking_%s: %v", args[0], err)
		}
		fmt.Printf("Staking enabled: %v\n", on)
	case "add":
		cmdStakingAdd(client, args[1:])
	case "update":
		cmdStakingUpdate(client, args[1:])
	case "delegate":
		cmdStakingDelegate(client, args[1:])
	case "revoke":
		fs := flag.NewFlagSet("staking revoke", flag.ExitOnError)
		owner := fs.String("owner", "", "Owner address")
		fs.Parse(args[1:])
		if *owner == "" {
			fatal("Usage: staking-cli staking revoke --owner <addr>")
		}
		d, err := client.RevokeDelegation(*owner)
		if err != nil {
			fatal("staking_revokeDelegation: %v", err)
		}
		fmt.Printf("Revoked delegation of %s to %s\n", d.Owner, d.Staker)
	case "remove":
		fs := flag.NewFlagSet("staking remove", flag.ExitOnError)
		addr := fs.String("address", "", "Staker address")
		fs.Parse(args[1:])
		if *addr == "" {
			fatal("Usage: staking-cli staking remove --address <addr>")
		}
		pos, err := client.RemoveStake(*addr)
		if err != nil {
			fatal("staking_removeStake: %v", err)
		}
		fmt.Printf("Withdrew %s from %s\n", formatAmount(pos.Amount), pos.Address)
	default:
		fatal("Unknown staking subcommand: %s", args[0])
	}
}

func cmdStakingValidators(client *rpcclient.Client) {
	vals, err := client.ListValidators()
	if err != nil {
		fatal("staking_listValidators: %v", err)
	}
	if len(vals) == 0 {
		fmt.Println("No stake positions.")
		return
	}
	for _, v := range vals {
		flags := ""
		if v.Eligible {
			flags += " eligible"
		}
		if v.Banned {
			flags += " banned"
		}
		fmt.Printf("%s  stake=%s  effective=%s  age=%ds%s\n",
			v.Address, formatAmount(v.Amount), formatAmount(v.EffectiveStake), v.Age, flags)
	}
}

func cmdStakingAdd(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("staking add", flag.ExitOnError)
	addr := fs.String("address", "", "Staker address")
	amountStr := fs.String("amount", "", "Stake amount (e.g. 1000)")
	fs.Parse(args)

	if *addr == "" || *amountStr == "" {
		fatal("Usage: staking-cli staking add --address <addr> --amount <amount>")
	}
	amount, err := parseAmount(*amountStr)
	if err != nil {
		fatal("invalid amount: %v", err)
	}
	pos, err := client.AddStake(*addr, amount)
	if err != nil {
		fatal("staking_addStake: %v", err)
	}
	fmt.Printf("Staked %s from %s\n", formatAmount(pos.Amount), pos.Address)
	fmt.Printf("Stake hash: %s\n", pos.StakeHash)
}

func cmdStakingUpdate(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("staking update", flag.ExitOnError)
	addr := fs.String("address", "", "Staker address")
	amountStr := fs.String("amount", "", "New stake amount")
	fs.Parse(args)

	if *addr == "" || *amountStr == "" {
		fatal("Usage: staking-cli staking update --address <addr> --amount <amount>")
	}
	amount, err := parseAmount(*amountStr)
	if err != nil {
		fatal("invalid amount: %v", err)
	}
	pos, err := client.UpdateStake(*addr, amount)
	if err != nil {
		fatal("staking_updateStake: %v", err)
	}
	fmt.Printf("Stake of %s is now %s\n", pos.Address, formatAmount(pos.Amount))
}

func cmdStakingDelegate(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("staking delegate", flag.ExitOnError)
	owner := fs.String("owner", "", "Address holding the stake")
	staker := fs.String("staker", "", "Address allowed to produce blocks with it")
	expiry := fs.Uint64("expiry", 0, "Unix time the delegation lapses (0 = never)")
	fs.Parse(args)

	if *owner == "" || *staker == "" {
		fatal("Usage: staking-cli staking delegate --owner <addr> --staker <addr> [--expiry <unix>]")
	}
	d, err := client.Delegate(*owner, *staker, *expiry)
	if err != nil {
		fatal("staking_delegate: %v", err)
	}
	fmt.Printf("%s now stakes for %s\n", d.Staker, d.Owner)
	if d.Expiry != 0 {
		fmt.Printf("Expires: %s\n", time.Unix(int64(d.Expiry), 0).UTC().Format(time.RFC3339))
	}
}

// ── evidence ─────────────────────────────────────────────────────────────

func cmdEvidence(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: staking-cli evidence <submit|list|report-inactivity> [flags]")
	}

	switch args[0] {
	case "submit":
		fs := flag.NewFlagSet("evidence submit", flag.ExitOnError)
		kind := fs.String("kind", "", "double_signing, invalid_block or inactivity")
		validator := fs.String("validator", "", "Validator address (inactivity)")
		blockHash := fs.String("block", "", "Last block produced by the validator (inactivity)")
		proof := fs.String("proof", "", "Hex RLP list of headers (double_signing, invalid_block)")
		fs.Parse(args[1:])
		if *kind == "" {
			fatal("Usage: staking-cli evidence submit --kind <kind> [flags]")
		}
		ev, err := client.SubmitEvidence(rpc.EvidenceParam{
			Kind:      *kind,
			Validator: *validator,
			BlockA:    *blockHash,
			Proof:     *proof,
		})
		if err != nil {
			fatal("slashing_submitEvidence: %v", err)
		}
		printJSON(ev)
	case "list":
		validator := ""
		if len(args) > 1 {
			validator = args[1]
		}
		list, err := client.ListEvidence(validator)
		if err != nil {
			fatal("slashing_listEvidence: %v", err)
		}
		if len(list) == 0 {
			fmt.Println("No evidence.")
			return
		}
		for _, ev := range list {
			fmt.Printf("%s  %-14s  %s  at %d\n", ev.ID, ev.Kind, ev.Validator, ev.Timestamp)
		}
	case "report-inactivity":
		if len(args) < 2 {
			fatal("Usage: staking-cli evidence report-inactivity <validator>")
		}
		ev, err := client.ReportInactivity(args[1])
		if err != nil {
			fatal("slashing_reportInactivity: %v", err)
		}
		printJSON(ev)
	default:
		fatal("Unknown evidence subcommand: %s", args[0])
	}
}

// ── governance ───────────────────────────────────────────────────────────

// paramFlags collects repeated --param key=value flags.
type paramFlags map[string]string

func (p paramFlags) String() string { return fmt.Sprint(map[string]string(p)) }

func (p paramFlags) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	p[key] = value
	return nil
}

func cmdGov(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: staking-cli gov <list|result|create|vote|execute|cancel> [flags]")
	}

	switch args[0] {
	case "list":
		list, err := client.ListProposals(args[1:]...)
		if err != nil {
			fatal("gov_list: %v", err)
		}
		if len(list) == 0 {
			fmt.Println("No proposals.")
			return
		}
		for _, p := range list {
			fmt.Printf("%s  %-9s  %-15s  %s\n", p.ID, p.State, p.Kind, p.Title)
		}
	case "result":
		if len(args) < 2 {
			fatal("Usage: staking-cli gov result <id>")
		}
		res, err := client.VoteResult(args[1])
		if err != nil {
			fatal("gov_getVoteResult: %v", err)
		}
		printJSON(res)
	case "create":
		cmdGovCreate(client, args[1:])
	case "vote":
		fs := flag.NewFlagSet("gov vote", flag.ExitOnError)
		id := fs.String("id", "", "Proposal id")
		voter := fs.String("voter", "", "Voter address")
		no := fs.Bool("no", false, "Vote against")
		fs.Parse(args[1:])
		if *id == "" || *voter == "" {
			fatal("Usage: staking-cli gov vote --id <id> --voter <addr> [--no]")
		}
		res, err := client.Vote(*id, *voter, !*no)
		if err != nil {
			fatal("gov_vote: %v", err)
		}
		fmt.Printf("Yes: %s  No: %s  Quorum met: %v\n",
			formatAmount(res.Yes), formatAmount(res.No), res.QuorumMet)
	case "execute":
		if len(args) < 2 {
			fatal("Usage: staking-cli gov execute <id>")
		}
		if err := client.ExecuteProposal(args[1]); err != nil {
			fatal("gov_execute: %v", err)
		}
		fmt.Println("Proposal executed.")
	case "cancel":
		fs := flag.NewFlagSet("gov cancel", flag.ExitOnError)
		id := fs.String("id", "", "Proposal id")
		proposer := fs.String("proposer", "", "Proposer address")
		fs.Parse(args[1:])
		if *id == "" || *proposer == "" {
			fatal("Usage: staking-cli gov cancel --id <id> --proposer <addr>")
		}
		if err := client.CancelProposal(*id, *proposer); err != nil {
			fatal("gov_cancel: %v", err)
		}
		fmt.Println("Proposal cancelled.")
	default:
		fatal("Unknown gov subcommand: %s", args[0])
	}
}

func cmdGovCreate(client *rpcclient.Client, args []string) {
	params := paramFlags{}
	fs := flag.NewFlagSet("gov create", flag.ExitOnError)
	proposer := fs.String("proposer", "", "Proposer address")
	kind := fs.String("kind", "general", "Proposal kind")
	title := fs.String("title", "", "Proposal title")
	desc := fs.String("desc", "", "Proposal description")
	fs.Var(params, "param", "Parameter change key=value (repeatable)")
	fs.Parse(args)

	if *proposer == "" || *title == "" {
		fatal("Usage: staking-cli gov create --proposer <addr> --kind <kind> --title <title> [--param key=value ...]")
	}
	id, err := client.CreateProposal(rpc.CreateProposalParam{
		Proposer:    *proposer,
		Kind:        *kind,
		Title:       *title,
		Description: *desc,
		Params:      params,
	})
	if err != nil {
		fatal("gov_create: %v", err)
	}
	fmt.Printf("Proposal: %s\n", id)
}

// ── boosts ───────────────────────────────────────────────────────────────

func cmdBoost(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: staking-cli boost <add|remove|list> [flags]")
	}

	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("boost add", flag.ExitOnError)
		nft := fs.String("nft", "", "NFT id (32-byte hex)")
		owner := fs.String("owner", "", "Owner address")
		mult := fs.Uint64("multiplier", 0, "Multiplier in basis points (10000 = 1x)")
		start := fs.Uint64("start", 0, "Start time (unix, default now)")
		end := fs.Uint64("end", 0, "End time (unix, 0 = no expiry)")
		kind := fs.String("kind", "", "Boost kind label")
		fs.Parse(args[1:])
		if *nft == "" || *owner == "" || *mult == 0 {
			fatal("Usage: staking-cli boost add --nft <id> --owner <addr> --multiplier <bps>")
		}
		b, err := client.AddBoost(rpc.BoostParam{
			NFTID:         *nft,
			Owner:         *owner,
			MultiplierBps: *mult,
			Start:         *start,
			End:           *end,
			Kind:          *kind,
		})
		if err != nil {
			fatal("boost_add: %v", err)
		}
		printJSON(b)
	case "remove":
		if len(args) < 2 {
			fatal("Usage: staking-cli boost remove <nft>")
		}
		b, err := client.RemoveBoost(args[1])
		if err != nil {
			fatal("boost_remove: %v", err)
		}
		fmt.Printf("Removed boost %s from %s\n", b.NFTID, b.Owner)
	case "list":
		owner := ""
		if len(args) > 1 {
			owner = args[1]
		}
		list, err := client.ListBoosts(owner)
		if err != nil {
			fatal("boost_list: %v", err)
		}
		if len(list) == 0 {
			fmt.Println("No boosts.")
			return
		}
		for _, b := range list {
			fmt.Printf("%s  %s  x%.2f  [%d, %d)\n",
				b.NFTID, b.Owner, float64(b.MultiplierBps)/10000, b.Start, b.End)
		}
	default:
		fatal("Unknown boost subcommand: %s", args[0])
	}
}

// ── key file ─────────────────────────────────────────────────────────────

func cmdKeyfile(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fatal("Usage: staking-cli keyfile <create|import|show> [flags]")
	}

	switch args[0] {
	case "create", "import":
		cmdKeyfileCreate(cfg, args[0], args[1:])
	case "show":
		kf, err := wallet.ReadKeyfile(cfg.KeyFilePath())
		if err != nil {
			fatal("%v", err)
		}
		addrs, err := kf.AddressList()
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Key file: %s\n", cfg.KeyFilePath())
		for i, a := range addrs {
			fmt.Printf("  [%d] %s\n", i, a)
		}
	default:
		fatal("Unknown keyfile subcommand: %s", args[0])
	}
}

func cmdKeyfileCreate(cfg *config.Config, mode string, args []string) {
	fs := flag.NewFlagSet("keyfile "+mode, flag.ExitOnError)
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic (import only)")
	accounts := fs.Uint("accounts", 1, "Number of staking accounts to derive")
	fs.Parse(args)

	switch mode {
	case "create":
		m, err := wallet.GenerateMnemonic()
		if err != nil {
			fatal("generate mnemonic: %v", err)
		}
		*mnemonic = m
		fmt.Println("Mnemonic (write this down!):")
		fmt.Printf("  %s\n\n", m)
	case "import":
		if *mnemonic == "" {
			fatal("Usage: staking-cli keyfile import --mnemonic \"word1 word2 ...\"")
		}
		if !wallet.ValidateMnemonic(*mnemonic) {
			fatal("invalid mnemonic")
		}
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	seed, err := wallet.SeedFromMnemonic(*mnemonic, "")
	if err != nil {
		fatal("derive seed: %v", err)
	}

	if err := os.MkdirAll(cfg.KeystoreDir(), 0700); err != nil {
		fatal("create keystore dir: %v", err)
	}
	kf, err := wallet.CreateKeyfile(cfg.KeyFilePath(), seed, password, uint32(*accounts), wallet.DefaultParams())

	for i := range seed {
		seed[i] = 0
	}
	for i := range password {
		password[i] = 0
	}
	if err != nil {
		fatal("create key file: %v", err)
	}

	fmt.Printf("Key file written to %s\n", cfg.KeyFilePath())
	addrs, err := kf.AddressList()
	if err != nil {
		fatal("%v", err)
	}
	for i, a := range addrs {
		fmt.Printf("  [%d] %s\n", i, a)
	}
}

// ── helpers ──────────────────────────────────────────────────────────────

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("encode: %v", err)
	}
	fmt.Println(string(data))
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	return pw, err
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func defaultDataDir() string {
	return config.DefaultDataDir()
}

// formatAmount renders raw units as a decimal coin amount.
func formatAmount(units uint64) string {
	whole := units / config.Coin
	frac := units % config.Coin
	return fmt.Sprintf("%d.%0*d", whole, config.Decimals, frac)
}

// parseAmount converts a decimal string to raw units.
func parseAmount(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("negative amount")
	}

	parts := strings.SplitN(s, ".", 2)

	whole, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid whole part: %w", err)
	}

	var frac uint64
	if len(parts) == 2 {
		fracStr := parts[1]
		if len(fracStr) > config.Decimals {
			return 0, fmt.Errorf("too many decimal places (max %d)", config.Decimals)
		}
		fracStr = fracStr + strings.Repeat("0", config.Decimals-len(fracStr))
		frac, err = strconv.ParseUint(fracStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid fractional part: %w", err)
		}
	}

	if whole > math.MaxUint64/config.Coin {
		return 0, fmt.Errorf("amount too large")
	}
	result := whole * config.Coin
	if result > math.MaxUint64-frac {
		return 0, fmt.Errorf("amount too large")
	}

	return result + frac, nil
}
