package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/usecase/resolver"
	"cryptobox-parser/internal/usecase/restriction"
)

// app — зависимости команд.
type app struct {
	users        *restriction.Service
	chats        *restriction.Service
	userEntities *resolver.Users
	chatEntities *resolver.Chats
	now          func() time.Time
	closers      []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now().UTC()
}

func (a *app) service(kind domain.TargetKind) *restriction.Service {
	if kind == domain.TargetChat {
		return a.chats
	}
	return a.users
}

// ensureTarget создаёт цель, если её ещё нет: запись чёрного списка ссылается на неё.
func (a *app) ensureTarget(ctx context.Context, kind domain.TargetKind, id int64, chatType domain.ChatType) error {
	if kind == domain.TargetChat {
		_, _, err := a.chatEntities.GetOrCreate(ctx, id, domain.Chat{Type: chatType})
		return err
	}
	_, _, err := a.userEntities.GetOrCreate(ctx, id, domain.User{})
	return err
}

func parseKind(s string) (domain.TargetKind, error) {
	kind := domain.TargetKind(strings.ToLower(s))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown target kind %q, expected user or chat", s)
	}
	return kind, nil
}

func parseTarget(args []string) (domain.TargetKind, int64, error) {
	kind, err := parseKind(args[0])
	if err != nil {
		return "", 0, err
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid id %q: %w", args[1], err)
	}
	return kind, id, nil
}

func newRootCmd(open func(ctx context.Context) (*app, error)) *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "blacklist",
		Short:         "Manage restricted Telegram users and chats.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opened, err := open(cmd.Context())
			if err != nil {
				return err
			}
			*a = *opened
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.AddCommand(
		newAddCmd(a),
		newRemoveCmd(a),
		newCheckCmd(a),
		newListCmd(a),
		newHistoryCmd(a),
		newDeleteEntryCmd(a),
	)
	return root
}

func newAddCmd(a *app) *cobra.Command {
	var (
		reason   string
		duration time.Duration
		until    string
		chatType string
	)
	cmd := &cobra.Command{
		Use:   "add (user|chat) ID",
		Short: "Restrict a target. Without --for or --until the restriction is permanent.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, err := parseTarget(args)
			if err != nil {
				return err
			}
			now := a.clock()
			var releaseAt *time.Time
			switch {
			case duration > 0 && until != "":
				return errors.New("--for and --until are mutually exclusive")
			case duration > 0:
				releaseAt = lo.ToPtr(now.Add(duration))
			case until != "":
				t, err := time.Parse(time.RFC3339, until)
				if err != nil {
					return fmt.Errorf("invalid --until: %w", err)
				}
				releaseAt = lo.ToPtr(t.UTC())
			}
			ct := domain.ChatType(strings.ToUpper(chatType))
			if kind == domain.TargetChat && !ct.Valid() {
				return fmt.Errorf("invalid --chat-type %q", chatType)
			}

			ctx := cmd.Context()
			if err := a.ensureTarget(ctx, kind, id, ct); err != nil {
				return err
			}
			entry, err := a.service(kind).AddToBlacklist(ctx, id, lo.EmptyableToPtr(reason), releaseAt)
			if errors.Is(err, domain.ErrAlreadyRestricted) {
				return fmt.Errorf("%s %d is already restricted", kind, id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "entry #%d: %s %d restricted, release %s\n",
				entry.ID, kind, id, entry.ReleaseHumanize(now))
			return nil
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Violation reason.")
	cmd.Flags().DurationVar(&duration, "for", 0, "Restriction length, e.g. 72h.")
	cmd.Flags().StringVar(&until, "until", "", "Release time in RFC3339.")
	cmd.Flags().StringVar(&chatType, "chat-type", string(domain.ChatTypeSupergroup),
		"Chat type used when the chat is not stored yet.")
	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "remove (user|chat) ID",
		Short: "Amnesty every active entry of a target.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, err := parseTarget(args)
			if err != nil {
				return err
			}
			entries, err := a.service(kind).RemoveFromBlacklist(cmd.Context(), id, lo.EmptyableToPtr(reason))
			if errors.Is(err, domain.ErrNotRestricted) {
				return fmt.Errorf("%s %d is not restricted", kind, id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d amnestied, %d entries closed\n", kind, id, len(entries))
			return nil
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Amnesty reason.")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check (user|chat) ID",
		Short: "Show whether a target is restricted right now.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, err := parseTarget(args)
			if err != nil {
				return err
			}
			active, err := a.service(kind).ActiveEntries(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(active) == 0 {
				fmt.Fprintf(out, "%s %d is not restricted\n", kind, id)
				return nil
			}
			fmt.Fprintf(out, "%s %d is restricted\n", kind, id)
			return printEntries(out, active, a.clock())
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var page domain.Page
	cmd := &cobra.Command{
		Use:   "list (user|chat)",
		Short: "List currently restricted targets.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			svc := a.service(kind)
			ids, err := svc.ListRestricted(ctx, page)
			if err != nil {
				return err
			}
			total, err := svc.CountRestricted(ctx)
			if err != nil {
				return err
			}

			now := a.clock()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TARGET\tENTRIES\tRELEASE")
			for _, id := range ids {
				active, err := svc.ActiveEntries(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%d\t%s\n", id, len(active), latestRelease(active, now))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d restricted %ss\n", len(ids), total, kind)
			return nil
		},
	}
	cmd.Flags().IntVar(&page.Limit, "limit", 50, "Page size, 0 for all.")
	cmd.Flags().IntVar(&page.Offset, "offset", 0, "Page offset.")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history (user|chat) ID",
		Short: "Show every entry of a target including amnestied ones.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, err := parseTarget(args)
			if err != nil {
				return err
			}
			entries, err := a.service(kind).History(cmd.Context(), id)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d has no entries\n", kind, id)
				return nil
			}
			return printEntries(cmd.OutOrStdout(), entries, a.clock())
		},
	}
}

func newDeleteEntryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-entry (user|chat) ENTRY_ID",
		Short: "Delete a single entry by its id.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, err := parseTarget(args)
			if err != nil {
				return err
			}
			if err := a.service(kind).DeleteEntry(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "entry #%d deleted\n", id)
			return nil
		},
	}
}

// latestRelease возвращает самый поздний срок среди записей: бессрочная запись перекрывает остальные.
func latestRelease(entries []domain.BlacklistEntry, now time.Time) string {
	if len(entries) == 0 {
		return "-"
	}
	latest := lo.MaxBy(entries, func(a, b domain.BlacklistEntry) bool {
		if a.ReleaseAt == nil {
			return b.ReleaseAt != nil
		}
		return b.ReleaseAt != nil && a.ReleaseAt.After(*b.ReleaseAt)
	})
	return latest.ReleaseHumanize(now)
}

func printEntries(out io.Writer, entries []domain.BlacklistEntry, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tRELEASE\tREASON\tCREATED")
	for _, e := range entries {
		status := "active"
		switch {
		case e.AmnestiedAt != nil:
			status = "amnestied " + e.AmnestiedHumanize(now)
		case !e.Active(now):
			status = "expired"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			e.ID, status, e.ReleaseHumanize(now), lo.FromPtr(e.Reason), e.CreatedAt.Format(time.DateTime))
	}
	return w.Flush()
}
