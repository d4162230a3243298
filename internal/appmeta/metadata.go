// Package appmeta holds the fixed application metadata records sent to
// wallets during session negotiation. One record exists per build target and
// none of them are user-mutable.
package appmeta

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnknownTarget = errors.New("appmeta: unknown build target")

// Target selects which front end this build serves.
type Target string

const (
	TargetVoting     Target = "voting"
	TargetGovernance Target = "governance"
	TargetLocking    Target = "locking"
)

// Metadata describes a peer (this app or a wallet) on the wire.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
}

// Icon returns the first icon or an empty string.
func (m Metadata) Icon() string {
	if len(m.Icons) == 0 {
		return ""
	}
	return m.Icons[0]
}

func (m Metadata) IsZero() bool {
	return m.Name == "" && m.Description == "" && m.URL == "" && len(m.Icons) == 0
}

var table = map[Target]Metadata{
	TargetVoting: {
		Name:        "Aquarius Voting",
		Description: "Vote for Stellar markets to direct AQUA rewards",
		URL:         "https://vote.aqua.network",
		Icons:       []string{"https://vote.aqua.network/favicon.png"},
	},
	TargetGovernance: {
		Name:        "Aquarius Governance",
		Description: "Create and vote on Aquarius governance proposals",
		URL:         "https://gov.aqua.network",
		Icons:       []string{"https://gov.aqua.network/favicon.png"},
	},
	TargetLocking: {
		Name:        "Aquarius Locker",
		Description: "Lock AQUA and receive ICE voting power",
		URL:         "https://locker.aqua.network",
		Icons:       []string{"https://locker.aqua.network/favicon.png"},
	},
}

// ParseTarget normalizes a build target name.
func ParseTarget(raw string) (Target, error) {
	target := Target(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := table[target]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTarget, raw)
	}
	return target, nil
}

// For returns a copy of the metadata record for target.
func For(target Target) (Metadata, error) {
	meta, ok := table[target]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	meta.Icons = append([]string(nil), meta.Icons...)
	return meta, nil
}

// Targets lists known targets in stable order.
func Targets() []Target {
	out := make([]Target, 0, len(table))
	for target := range table {
		out = append(out, target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
