package commands

import (
	"fmt"
	"sort"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/piwi3910/shipper/pkg/engine"
	"github.com/piwi3910/shipper/pkg/state"
	"github.com/piwi3910/shipper/pkg/types"
)

func newStatusCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the current or last run",
		Long: `Print the persisted execution state: per-package status, attempt
counters, and the lock holder if a run is in progress.

With --watch the state directory is observed and the status re-renders
whenever another process persists a transition.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts := cfg.Options()
			stateDir := engine.ResolveStateDir(".", opts.StateDir)
			store := state.NewDirStore(stateDir)

			if err := renderStatus(store, stateDir); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()
			if err := watcher.Add(stateDir); err != nil {
				return fmt.Errorf("failed to watch %s: %w", stateDir, err)
			}

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					// The store writes via rename; re-render on any
					// create or write in the directory.
					if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
						fmt.Println()
						if err := renderStatus(store, stateDir); err != nil {
							return err
						}
					}
				case werr, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					return werr
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-render on state changes")
	return cmd
}

func renderStatus(store *state.DirStore, stateDir string) error {
	st, err := store.LoadState()
	if err != nil {
		return err
	}
	if st == nil {
		fmt.Printf("no state in %s\n", stateDir)
		return nil
	}

	if jsonOutput {
		return printJSON(st)
	}

	fmt.Printf("plan %s (updated %s)\n", st.PlanID[:12], st.UpdatedAt.Format("15:04:05"))
	if state.IsLocked(stateDir) {
		if info, lerr := state.ReadLockInfo(stateDir); lerr == nil {
			fmt.Printf("locked by pid %d on %s\n", info.PID, info.Host)
		}
	}

	keys := make([]string, 0, len(st.Packages))
	for key := range st.Packages {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		pr := st.Packages[key]
		line := fmt.Sprintf("  %s: %s", key, pr.Status)
		if pr.Attempts > 0 {
			line += fmt.Sprintf(" (attempts: %d)", pr.Attempts)
		}
		if pr.Status == types.StatusFailed && pr.Reason != "" {
			line += " - " + pr.Reason
		}
		fmt.Println(line)
	}
	return nil
}
