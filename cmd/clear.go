package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
)

var (
	clearIDs  []int64
	keepClips bool
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete detection events",
	Long:  "Deletes the given events, or every event when no ids are passed. Their clips are removed too unless --keep-clips is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		clips, err := DB.Clear(cmd.Context(), clearIDs...)
		if err != nil {
			return fmt.Errorf("failed to clear events: %w", err)
		}

		removed := 0
		if !keepClips {
			seen := make(map[string]bool, len(clips))
			for _, path := range clips {
				// Several events can share one clip.
				if path == "" || seen[path] {
					continue
				}
				seen[path] = true
				if err := os.Remove(path); err != nil {
					if !errors.Is(err, fs.ErrNotExist) {
						logger.Warn().Err(err).Str("clip", path).Msg("failed to remove clip")
					}
					continue
				}
				removed++
			}
		}

		fmt.Printf("Events cleared, %d clip files removed.\n", removed)
		return nil
	},
}

func init() {
	clearCmd.Flags().Int64SliceVar(&clearIDs, "ids", nil, "event ids to delete (default all)")
	clearCmd.Flags().BoolVar(&keepClips, "keep-clips", false, "keep clip files on disk")
	rootCmd.AddCommand(clearCmd)
}
