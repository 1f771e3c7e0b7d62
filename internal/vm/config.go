package vm

import (
	"fmt"
	"time"
)

// Config configures the Dispatcher.
type Config struct {
	DispatchTimeout     time.Duration `mapstructure:"dispatch_timeout"`
	ResponseTimeout     time.Duration `mapstructure:"response_timeout"`
	ClaimCheckThreshold int           `mapstructure:"claim_check_threshold"` // bytes; 0 disables
	ReplyQueuePrefix    string        `mapstructure:"reply_queue_prefix"`
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		DispatchTimeout:  time.Second,
		ResponseTimeout:  10 * time.Second,
		ReplyQueuePrefix: "vm.reply.",
	}
}

// TxPolicy selects how a receiver scopes each delivery in a transaction.
type TxPolicy int

const (
	// TxNone takes messages without a transaction. A failed delivery is put
	// back at the head of the queue.
	TxNone TxPolicy = iota
	// TxJoinIfPossible joins the transaction found in the context, if any,
	// and otherwise behaves like TxNone.
	TxJoinIfPossible
	// TxAlwaysBegin runs every delivery in its own transaction.
	TxAlwaysBegin
)

func (p TxPolicy) String() string {
	switch p {
	case TxNone:
		return "none"
	case TxJoinIfPossible:
		return "join_if_possible"
	case TxAlwaysBegin:
		return "always_begin"
	default:
		return fmt.Sprintf("TxPolicy(%d)", int(p))
	}
}

// ParseTxPolicy parses the configuration spelling of a policy.
func ParseTxPolicy(s string) (TxPolicy, error) {
	switch s {
	case "none", "":
		return TxNone, nil
	case "join_if_possible":
		return TxJoinIfPossible, nil
	case "always_begin":
		return TxAlwaysBegin, nil
	default:
		return TxNone, fmt.Errorf("vm: unknown transaction policy %q", s)
	}
}

// ReceiverConfig configures one endpoint receiver.
type ReceiverConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	WorkerCount     int           `mapstructure:"worker_count"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`
	ProcessTimeout  time.Duration `mapstructure:"process_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TxPolicy        string        `mapstructure:"tx_policy"`
	TxTimeout       time.Duration `mapstructure:"tx_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

func (c *ReceiverConfig) applyDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 1
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.TxTimeout <= 0 {
		c.TxTimeout = time.Minute
	}
}
