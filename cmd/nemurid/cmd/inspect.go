package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/amakane-hakari/nemuri/internal/cache"
	"github.com/amakane-hakari/nemuri/internal/objectstore"
	"github.com/amakane-hakari/nemuri/internal/session"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Print a passivated session",
	Long: "Decode a passivated session from storage without activating it. " +
		"Sessions that were passivated with their group need --group.",
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().String("group", "", "group id the session was passivated with")
	rootCmd.AddCommand(inspectCmd)
}

type inspectDTO struct {
	ID           string            `json:"id"`
	Source       string            `json:"source"`
	CartID       string            `json:"cart_id"`
	GroupID      string            `json:"group_id"`
	Customer     *session.Customer `json:"customer,omitempty"`
	OpenedAt     time.Time         `json:"opened_at"`
	Receipt      *session.Receipt  `json:"receipt,omitempty"`
	Passivations int               `json:"passivations"`
	Activations  int               `json:"activations"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id := args[0]
	groupID, _ := cmd.Flags().GetString("group")

	comp, err := newCompressor()
	if err != nil {
		return err
	}
	defer func() { _ = comp.Close() }()

	var (
		s      *session.Session
		source string
	)
	if groupID != "" {
		blobs, err := openBlobs(ctx, groupsDir, nil)
		if err != nil {
			return err
		}
		s, err = cache.ReadGroupMember(ctx, blobs, groupID, sessionsCache, id,
			objectstore.NewGobCodec[*session.Session](comp), objectstore.NewGobCodec[map[string]any](comp))
		if err != nil {
			return err
		}
		source = "group " + groupID
	} else {
		blobs, err := openBlobs(ctx, sessionsCache, nil)
		if err != nil {
			return err
		}
		store := objectstore.NewStore[*session.Session](blobs, objectstore.NewGobCodec[*session.Session](comp))
		s, err = store.Load(ctx, id)
		if objectstore.IsNotFound(err) {
			return fmt.Errorf("session %s is not passivated on its own; it may be resident or passivated with its group (use --group): %w", id, err)
		}
		if err != nil {
			return err
		}
		source = "record"
	}
	if s == nil {
		return errors.New("empty record")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(inspectDTO{
		ID:           id,
		Source:       source,
		CartID:       s.CartID,
		GroupID:      s.GroupID,
		Customer:     s.Customer(),
		OpenedAt:     s.OpenedAt,
		Receipt:      s.Receipt,
		Passivations: s.Passivations,
		Activations:  s.Activations,
	})
}
