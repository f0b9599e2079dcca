// Package params loads node configuration from the environment, with an
// optional .env file underneath (priority: process env, then .env, then
// defaults).
package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Consensus configures the validator set and pacemaker timers.
type Consensus struct {
	Validators []string
	// ProposeWait bounds how long a follower waits out the leader's
	// proposal round; NetDelta is the assumed one-way network bound.
	ProposeWait time.Duration
	NetDelta    time.Duration
}

// Node configures this validator's runtime surfaces.
type Node struct {
	SingleNode bool
	// MinBlockTime throttles proposals so a single-node devnet doesn't
	// spin out empty blocks as fast as the loop can turn. Zero disables
	// the throttle (multi-node WANs are paced by the network itself).
	MinBlockTime time.Duration
	DataDir      string
	LogFile      string
	APIAddr      string
	ListenAddr   string
	Verbose      bool
}

type Config struct {
	Consensus Consensus
	Node      Node
}

func Default() Config {
	return Config{
		Consensus: Consensus{
			Validators:  []string{"val1", "val2", "val3", "val4"},
			ProposeWait: 150 * time.Millisecond,
			NetDelta:    50 * time.Millisecond,
		},
		Node: Node{
			SingleNode:   true,
			MinBlockTime: 200 * time.Millisecond,
			DataDir:      "data",
			LogFile:      "data/node.log",
			APIAddr:      ":8080",
		},
	}
}

// LoadFromEnv merges envPath (or a ./.env, when empty) and the process
// environment over the defaults.
func LoadFromEnv(envPath string) Config {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := Default()
	envDurationMs("CONSENSUS_PPC_MS", &cfg.Consensus.ProposeWait)
	envDurationMs("CONSENSUS_DELTA_MS", &cfg.Consensus.NetDelta)
	envDurationMs("NODE_MIN_BLOCK_TIME_MS", &cfg.Node.MinBlockTime)
	envBool("SINGLE_NODE", &cfg.Node.SingleNode)
	envBool("VERBOSE", &cfg.Node.Verbose)
	envString("DATA_DIR", &cfg.Node.DataDir)
	envString("LOG_FILE", &cfg.Node.LogFile)
	envString("API_ADDR", &cfg.Node.APIAddr)
	envString("LISTEN", &cfg.Node.ListenAddr)

	if vals := envList("CONSENSUS_VALIDATORS"); len(vals) > 0 {
		cfg.Consensus.Validators = vals
	}
	return cfg
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func envDurationMs(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
}

// envList parses a comma-separated value, dropping empty entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
