// Package log provides the node's structured loggers, one per staking
// subsystem, all derived from a single zerolog root.
package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Logger is the root logger. Component loggers are rebuilt from it whenever
// it changes.
var Logger zerolog.Logger

// Component loggers for different parts of the system.
var (
	Stake      zerolog.Logger
	Slashing   zerolog.Logger
	Boost      zerolog.Logger
	Governance zerolog.Logger
	Scheduler  zerolog.Logger
	Chain      zerolog.Logger
	RPC        zerolog.Logger
	Wallet     zerolog.Logger
	Storage    zerolog.Logger
)

const consoleTimeFormat = "15:04:05"

var (
	mu      sync.Mutex
	logFile *os.File
	chainID string
)

func init() {
	Logger = NewConsoleLogger(os.Stdout, "info")
	initComponentLoggers()
}

// Init configures the root logger. Console output is colored unless
// jsonOutput is set. When file is non-empty every line is also appended to
// it as JSON, whatever the console format.
func Init(level string, jsonOutput bool, file string) error {
	mu.Lock()
	defer mu.Unlock()

	var out io.Writer = os.Stdout
	if !jsonOutput {
		out = consoleWriter(os.Stdout)
	}

	var f *os.File
	if file != "" {
		var err error
		f, err = os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		out = zerolog.MultiLevelWriter(out, f)
	}

	closeFileLocked()
	logFile = f
	Logger = newLogger(out, level)
	initComponentLoggers()
	return nil
}

// Close releases the log file opened by Init, if any. Later lines go to
// stdout only.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	Logger = Logger.Output(os.Stdout)
	initComponentLoggers()
	return closeFileLocked()
}

func closeFileLocked() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(consoleWriter(w), level)
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(w, level)
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
}

// ParseLevel maps a config level name to a zerolog level. Unknown or empty
// names mean info.
func ParseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetChainID tags every subsequent line with the chain being served.
func SetChainID(id string) {
	mu.Lock()
	defer mu.Unlock()
	chainID = id
	initComponentLoggers()
}

// SetOutput redirects all loggers to w as JSON. Tests use it to capture or
// silence output.
func SetOutput(w io.Writer, level string) {
	mu.Lock()
	defer mu.Unlock()
	Logger = NewJSONLogger(w, level)
	initComponentLoggers()
}

func initComponentLoggers() {
	Stake = WithComponent("stake")
	Slashing = WithComponent("slashing")
	Boost = WithComponent("boost")
	Governance = WithComponent("governance")
	Scheduler = WithComponent("scheduler")
	Chain = WithComponent("chain")
	RPC = WithComponent("rpc")
	Wallet = WithComponent("wallet")
	Storage = WithComponent("storage")
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	ctx := Logger.With().Str("component", name)
	if chainID != "" {
		ctx = ctx.Str("chain_id", chainID)
	}
	return ctx.Logger()
}
