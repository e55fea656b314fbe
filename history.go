package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jnesss/errsnoop/database"
)

func newHistoryCommand() *cobra.Command {
	var dbPath string
	var limit int

	cmd := &cobra.Command{
		Use:          "history",
		Short:        "Print error stacks recorded with --db",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openHistoryDB(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			return printHistory(os.Stdout, db, limit)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", defaultDBPath, "sqlite database to read")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of most recent stacks to print")
	return cmd
}

// openHistoryDB opens an existing history database. NewDB would create an
// empty one, hiding a wrong path.
func openHistoryDB(path string) (*database.DB, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("no history database at %s, record one with 'errsnoop --db %s'", path, path)
		}
		return nil, errors.Wrap(err, "failed to open history database")
	}
	return database.NewDB(path)
}

func printHistory(w io.Writer, db *database.DB, limit int) error {
	stacks, err := db.RecentErrorStacks(limit)
	if err != nil {
		return err
	}

	// oldest first, like the live output
	for i := len(stacks) - 1; i >= 0; i-- {
		s := stacks[i]
		result := fmt.Sprintf("%d", s.Result)
		if s.ErrName != "" {
			result = "-" + s.ErrName
		}
		fmt.Fprintf(w, "#%d %s %s [%s]\n", s.ID, s.Timestamp.Format("2006-01-02 15:04:05.000"), s.EntryFunc, result)
		fmt.Fprint(w, s.StackText)
	}
	return nil
}
