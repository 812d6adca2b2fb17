// Command kgb-client delivers one commit to a configured set of KGB
// servers (spec §6 "Client CLI contract"). Subversion and Git commit
// extraction are explicitly out of scope (§1); this binary accepts a
// pre-extracted commit as a JSON object on stdin, standing in for whatever
// hook script would otherwise invoke the real VCS-specific extractor.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kgbnotify/kgb/internal/branchmodule"
	"github.com/kgbnotify/kgb/internal/client"
	"github.com/kgbnotify/kgb/internal/commit"
	"github.com/kgbnotify/kgb/internal/config"
	"github.com/kgbnotify/kgb/internal/logger"
	"github.com/kgbnotify/kgb/internal/wire"
)

// stdinCommit is the JSON shape read from stdin: the fields a real
// Subversion/Git extractor would have already populated.
type stdinCommit struct {
	ID      string   `json:"id"`
	Author  string   `json:"author"`
	Log     string   `json:"log"`
	Changes []string `json:"changes"`
	Branch  string   `json:"branch,omitempty"`
	Module  string   `json:"module,omitempty"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		confPath         string
		uri              string
		proxy            string
		repoID           string
		password         string
		timeoutSecs      int
		branchModuleRes  []string
		reSwap           bool
		moduleOverride   string
		ignoreBranch     string
		repository       string
		gitReflog        string
		verbose          bool
	)

	cmd := &cobra.Command{
		Use:   "kgb-client",
		Short: "Deliver a commit notification to a KGB server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readCommit(os.Stdin)
			if err != nil {
				return fmt.Errorf("kgb-client: %w", err)
			}

			if c.Branch == ignoreBranch && ignoreBranch != "" {
				return nil // commit on an ignored branch: silently succeed (§6)
			}

			if moduleOverride != "" {
				c.Module = moduleOverride
			} else if len(branchModuleRes) > 0 {
				applyBranchModuleRules(&c, branchModuleRes, reSwap)
			}

			if err := c.Validate(); err != nil {
				return fmt.Errorf("kgb-client: invalid commit: %w", err)
			}

			servers, err := resolveServers(confPath, uri, proxy, password, timeoutSecs)
			if err != nil {
				return fmt.Errorf("kgb-client: %w", err)
			}
			if repoID == "" {
				return fmt.Errorf("kgb-client: --repo-id is required")
			}

			log := logger.New(levelFor(verbose), "text")
			drv := client.New(servers, log)

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second*time.Duration(len(servers)+1))
			defer cancel()

			return drv.Deliver(ctx, repoID, wire.V2, c, "")
		},
	}

	cmd.Flags().StringVar(&confPath, "conf", "", "client configuration file (repo id + server list)")
	cmd.Flags().StringVar(&uri, "uri", "", "single server URI, used instead of --conf")
	cmd.Flags().StringVar(&proxy, "proxy", "", "HTTP endpoint, defaults to uri+\"?session=KGB\"")
	cmd.Flags().StringVar(&repoID, "repo-id", "", "repository identifier (required)")
	cmd.Flags().StringVar(&password, "password", "", "shared secret for --uri")
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 15, "per-server timeout in seconds")
	cmd.Flags().StringArrayVar(&branchModuleRes, "branch-and-module-re", nil, "regex with two capture groups extracting (branch, module) from a path, repeatable")
	cmd.Flags().BoolVar(&reSwap, "branch-and-module-re-swap", false, "swap the two capture groups of --branch-and-module-re")
	cmd.Flags().StringVar(&moduleOverride, "module", "", "force the module label")
	cmd.Flags().StringVar(&ignoreBranch, "ignore-branch", "", "silently drop commits on this branch")
	cmd.Flags().StringVar(&repository, "repository", "git", "VCS kind: svn or git (informative; extraction is external)")
	cmd.Flags().StringVar(&gitReflog, "git-reflog", "", "path to a git reflog file, or - for stdin (informative)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	_ = repository
	_ = gitReflog

	return cmd
}

func levelFor(verbose bool) string {
	if verbose {
		return "debug"
	}
	return "info"
}

func readCommit(r io.Reader) (commit.Commit, error) {
	var sc stdinCommit
	if err := json.NewDecoder(r).Decode(&sc); err != nil {
		return commit.Commit{}, fmt.Errorf("decode commit from stdin: %w", err)
	}

	c := commit.Commit{
		ID:     sc.ID,
		Author: sc.Author,
		Log:    sc.Log,
		Branch: sc.Branch,
		Module: sc.Module,
	}
	for _, raw := range sc.Changes {
		ch, err := commit.ParseChange(raw)
		if err != nil {
			return commit.Commit{}, err
		}
		c.Changes = append(c.Changes, ch)
	}
	return c, nil
}

func applyBranchModuleRules(c *commit.Commit, patterns []string, swap bool) {
	var rules []branchmodule.Rule
	for _, p := range patterns {
		rule, err := branchmodule.Compile(p, swap)
		if err != nil {
			continue // malformed pattern: skip rather than abort the whole delivery
		}
		rules = append(rules, rule)
	}
	if len(rules) == 0 {
		return
	}

	paths := make([]string, len(c.Changes))
	for i, ch := range c.Changes {
		paths[i] = ch.Path
	}
	branch, module, stripped := branchmodule.ExtractAcrossPaths(rules, paths)
	if branch == "" && module == "" {
		return
	}
	c.Branch = branch
	c.Module = module
	for i := range c.Changes {
		c.Changes[i].Path = stripped[i]
	}
}

func resolveServers(confPath, uri, proxy, password string, timeoutSecs int) ([]config.ServerRef, error) {
	if confPath != "" {
		cc, err := config.LoadClientConfig(confPath)
		if err != nil {
			return nil, err
		}
		return cc.Servers, nil
	}
	if uri == "" {
		return nil, fmt.Errorf("either --conf or --uri must be given")
	}
	ref := config.ServerRef{
		URI:      uri,
		Proxy:    proxy,
		Password: password,
		Timeout:  time.Duration(timeoutSecs) * time.Second,
	}
	if err := ref.Normalize(""); err != nil {
		return nil, err
	}
	return []config.ServerRef{ref}, nil
}
