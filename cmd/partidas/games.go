package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/DoyleJ11/partidas/internal/action"
	"github.com/DoyleJ11/partidas/internal/creation"
	"github.com/DoyleJ11/partidas/internal/engine"
	"github.com/DoyleJ11/partidas/internal/httpapi"
	"github.com/DoyleJ11/partidas/internal/notice"
	"github.com/DoyleJ11/partidas/internal/store"
)

func parseID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid game id %q", arg)
	}
	return id, nil
}

// withSession resolves config, seeds a session from one listing and runs fn.
func withSession(cmd *cobra.Command, opts *options, confirm action.Confirmer, fn func(context.Context, *session) error) error {
	a, err := opts.load()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	s, err := a.session(ctx, confirm)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

func printGame(w io.Writer, g engine.Game) {
	fmt.Fprintf(w, "#%d %s [%s] players: %s\n", g.ID, g.Name, g.State, strings.Join(g.Players, ", "))
	if len(g.Score) == 0 {
		return
	}
	names := make([]string, 0, len(g.Score))
	for name := range g.Score {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %d\n", name, g.Score[name])
	}
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Fetch and print every game",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			raws, err := a.client.ListGames(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATE\tPLAYERS")
			for _, g := range engine.NormalizeAll(raws) {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", g.ID, g.Name, g.State, strings.Join(g.Players, ", "))
			}
			return tw.Flush()
		},
	}
}

func newCreateCmd(opts *options) *cobra.Command {
	var plan creation.Plan

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a game and enroll its players in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			st := store.New(ctx, a.log)
			defer st.Close()
			orch := creation.New(a.client, st,
				creation.WithLogger(a.log),
				creation.WithMetrics(a.metrics),
				creation.WithNotifier(notice.NewLogger(a.log)),
			)

			res := orch.Run(ctx, plan)
			out := cmd.OutOrStdout()
			if res.GameID != 0 {
				printGame(out, res.Game)
			}
			for _, task := range res.Tasks {
				line := fmt.Sprintf("  %s: %s", task.Player, task.Status)
				if task.Error != "" {
					line += " (" + task.Error + ")"
				}
				fmt.Fprintln(out, line)
			}
			return res.Err
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&plan.Name, "name", "n", "", "game name")
	fs.IntVarP(&plan.MaxPlayers, "max-players", "m", 0, "player capacity, 0 for no limit")
	fs.StringArrayVarP(&plan.Players, "player", "p", nil, "player to enroll, repeatable; the first one creates the game")
	return cmd
}

func newJoinCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "join ID NAME",
		Short: "Add a player to a waiting game",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, opts, action.NeverConfirm, func(ctx context.Context, s *session) error {
				if _, err := s.game(id); err != nil {
					return err
				}
				if err := s.co.Join(ctx, id, args[1]); err != nil {
					return err
				}
				g, _ := s.store.Get(id)
				printGame(cmd.OutOrStdout(), g)
				return nil
			})
		},
	}
}

func newStartCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start ID",
		Short: "Start a waiting game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, opts, action.NeverConfirm, func(ctx context.Context, s *session) error {
				if _, err := s.game(id); err != nil {
					return err
				}
				if err := s.co.Start(ctx, id); err != nil {
					return err
				}
				g, _ := s.store.Get(id)
				printGame(cmd.OutOrStdout(), g)
				return nil
			})
		},
	}
}

func newEndCmd(opts *options) *cobra.Command {
	var scores map[string]string

	cmd := &cobra.Command{
		Use:   "end ID",
		Short: "Finish a game in progress with the given scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, opts, action.NeverConfirm, func(ctx context.Context, s *session) error {
				if _, err := s.game(id); err != nil {
					return err
				}
				for player, value := range scores {
					s.co.OnScoreChange(id, player, value)
				}
				if err := s.co.End(ctx, id); err != nil {
					return err
				}
				g, _ := s.store.Get(id)
				printGame(cmd.OutOrStdout(), g)
				return nil
			})
		},
	}

	cmd.Flags().StringToStringVarP(&scores, "score", "s", nil, "player=points, repeatable; unparsable points count as 0")
	return cmd
}

// promptConfirmer asks on out and reads the answer from in.
func promptConfirmer(in io.Reader, out io.Writer) action.Confirmer {
	reader := bufio.NewReader(in)
	return action.ConfirmFunc(func(_ context.Context, g engine.Game) bool {
		fmt.Fprintf(out, "Delete game #%d %q? [y/N] ", g.ID, g.Name)
		answer, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true
		}
		return false
	})
}

func newDeleteCmd(opts *options) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a game after confirmation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			confirm := promptConfirmer(cmd.InOrStdin(), cmd.OutOrStdout())
			if yes {
				confirm = action.AlwaysConfirm
			}
			return withSession(cmd, opts, confirm, func(ctx context.Context, s *session) error {
				if _, err := s.game(id); err != nil {
					return err
				}
				err := s.co.Delete(ctx, id)
				if errors.Is(err, action.ErrDeclined) {
					fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted game #%d\n", id)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newInviteCmd(opts *options) *cobra.Command {
	var pngPath string

	cmd := &cobra.Command{
		Use:   "invite ID",
		Short: "Print the join link of a game as text and a QR code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			link := httpapi.JoinURL(a.cfg.View.PublicURL, id)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, link)

			if pngPath != "" {
				if err := qrcode.WriteFile(link, qrcode.Medium, 320, pngPath); err != nil {
					return fmt.Errorf("write qr code: %w", err)
				}
				fmt.Fprintf(out, "wrote %s\n", pngPath)
				return nil
			}

			q, err := qrcode.New(link, qrcode.Medium)
			if err != nil {
				return err
			}
			fmt.Fprint(out, q.ToSmallString(false))
			return nil
		},
	}

	cmd.Flags().StringVar(&pngPath, "png", "", "write the QR code to this PNG file instead of the terminal")
	return cmd
}
