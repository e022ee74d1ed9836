package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"autorename/internal/daemon"
	"autorename/internal/store"
)

func newUserCommand(ctx *commandContext) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect and manage user preferences and credits",
	}

	userCmd.AddCommand(newUserListCommand(ctx))
	userCmd.AddCommand(newUserShowCommand(ctx))
	userCmd.AddCommand(newUserSetCommand(ctx, "set-template ID TEMPLATE", "Set the rename template (empty clears it)",
		func(cmd *cobra.Command, d *daemon.Daemon, id int64, value string) error {
			return d.Store().SetTemplate(cmd.Context(), id, value)
		}))
	userCmd.AddCommand(newUserSetCommand(ctx, "set-caption ID CAPTION", "Set the caption template ({filename}, {filesize})",
		func(cmd *cobra.Command, d *daemon.Daemon, id int64, value string) error {
			return d.Store().SetCaption(cmd.Context(), id, value)
		}))
	userCmd.AddCommand(newUserSetCommand(ctx, "set-media ID document|video|none", "Set the delivery media preference",
		func(cmd *cobra.Command, d *daemon.Daemon, id int64, value string) error {
			if value == "none" {
				value = ""
			}
			return d.Store().SetMediaPreference(cmd.Context(), id, value)
		}))
	userCmd.AddCommand(newUserSetCommand(ctx, "set-thumbnail ID REF", "Set the thumbnail reference sent with uploads",
		func(cmd *cobra.Command, d *daemon.Daemon, id int64, value string) error {
			return d.Store().SetThumbnail(cmd.Context(), id, value)
		}))
	userCmd.AddCommand(newUserSetCommand(ctx, "metadata ID on|off", "Toggle the metadata rewrite step",
		func(cmd *cobra.Command, d *daemon.Daemon, id int64, value string) error {
			enabled, err := parseToggle(value)
			if err != nil {
				return err
			}
			return d.Store().SetMetadataEnabled(cmd.Context(), id, enabled)
		}))
	userCmd.AddCommand(newUserSetMetaCommand(ctx))
	userCmd.AddCommand(newUserGrantCommand(ctx))
	userCmd.AddCommand(newUserPremiumCommand(ctx))

	return userCmd
}

func newUserListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDaemon(cmd, func(d *daemon.Daemon) error {
				users, err := d.Store().ListUsers(cmd.Context())
				if err != nil {
					return err
				}
				// The sqlite columns are stale when credits live in redis.
				for i := range users {
					acct, err := d.Ledger().Account(cmd.Context(), users[i].UserID)
					if err != nil {
						return err
					}
					users[i].Credits = acct.Credits
					users[i].Premium = acct.ActivePremium(time.Now())
				}
				if asJSON {
					return writeJSON(cmd, users)
				}
				if len(users) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No users")
					return nil
				}
				rows := make([][]string, 0, len(users))
				for _, u := range users {
					rows = append(rows, []string{
						strconv.FormatInt(u.UserID, 10),
						dash(u.Template),
						strconv.FormatInt(u.Credits, 10),
						yesNo(u.Premium),
						humanize.Comma(u.RenameCount),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Template", "Credits", "Premium", "Renamed"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newUserShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one user's preferences and balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return ctx.withDaemon(cmd, func(d *daemon.Daemon) error {
				prefs, err := d.Store().Preferences(cmd.Context(), id)
				if err != nil {
					return err
				}
				acct, err := d.Ledger().Account(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderPreferences(prefs, acct.Credits, premiumLabel(acct.Premium, acct.PremiumExpiry, time.Now())))
				return nil
			})
		},
	}
}

func renderPreferences(prefs store.Preferences, credits int64, premium string) string {
	media := prefs.MediaPreference
	if media == "" {
		media = "follow input"
	}
	meta := prefs.Metadata
	rows := [][]string{
		{"Template", dash(prefs.Template)},
		{"Caption", dash(prefs.Caption)},
		{"Media", media},
		{"Thumbnail", dash(prefs.Thumbnail)},
		{"Metadata", yesNo(meta.Enabled)},
		{"  title", dash(meta.Title)},
		{"  author", dash(meta.Author)},
		{"  artist", dash(meta.Artist)},
		{"  audio", dash(meta.Audio)},
		{"  subtitle", dash(meta.Subtitle)},
		{"  video", dash(meta.Video)},
		{"  encoded_by", dash(meta.EncodedBy)},
		{"  custom_tag", dash(meta.CustomTag)},
		{"Credits", strconv.FormatInt(credits, 10)},
		{"Premium", premium},
		{"Renamed", humanize.Comma(prefs.RenameCount)},
	}
	return renderTable([]string{"Setting", "Value"}, rows, []columnAlignment{alignLeft, alignLeft})
}

func premiumLabel(premium bool, expiry *time.Time, now time.Time) string {
	switch {
	case !premium:
		return "no"
	case expiry == nil:
		return "yes (no expiry)"
	case !expiry.After(now):
		return fmt.Sprintf("expired %s", humanize.RelTime(*expiry, now, "ago", "from now"))
	default:
		return fmt.Sprintf("yes (expires %s)", humanize.RelTime(*expiry, now, "ago", "from now"))
	}
}

type userSetter func(cmd *cobra.Command, d *daemon.Daemon, id int64, value string) error

func newUserSetCommand(ctx *commandContext, use, short string, set userSetter) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			value := strings.Join(args[1:], " ")
			return ctx.withDaemon(cmd, func(d *daemon.Daemon) error {
				if err := set(cmd, d, id, value); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated user %d\n", id)
				return nil
			})
		},
	}
}

func newUserSetMetaCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-meta ID FIELD [VALUE...]",
		Short: "Set one metadata tag (" + strings.Join(store.MetadataFields, ", ") + ")",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			field := strings.ToLower(strings.TrimSpace(args[1]))
			value := strings.Join(args[2:], " ")
			return ctx.withDaemon(cmd, func(d *daemon.Daemon) error {
				if err := d.Store().SetMetadataField(cmd.Context(), id, field, value); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s for user %d\n", field, id)
				return nil
			})
		},
	}
}

func newUserGrantCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "grant ID CREDITS",
		Short: "Add credits to a user's balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			credits, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || credits <= 0 {
				return fmt.Errorf("invalid credit amount %q", args[1])
			}
			return ctx.withDaemon(cmd, func(d *daemon.Daemon) error {
				acct, err := d.Ledger().Grant(cmd.Context(), id, credits)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User %d now has %d credits\n", id, acct.Credits)
				return nil
			})
		},
	}
}

func newUserPremiumCommand(ctx *commandContext) *cobra.Command {
	var days int
	var until string
	var revoke bool

	cmd := &cobra.Command{
		Use:   "premium ID",
		Short: "Grant or revoke premium access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			expiry, err := premiumExpiry(days, until, time.Now())
			if err != nil {
				return err
			}
			return ctx.withDaemon(cmd, func(d *daemon.Daemon) error {
				out := cmd.OutOrStdout()
				if revoke {
					if err := d.Ledger().RevokePremium(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(out, "Revoked premium for user %d\n", id)
					return nil
				}
				if err := d.Ledger().SetPremium(cmd.Context(), id, expiry); err != nil {
					return err
				}
				fmt.Fprintf(out, "User %d premium: %s\n", id, premiumLabel(true, expiry, time.Now()))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Premium duration in days")
	cmd.Flags().StringVar(&until, "until", "", "Premium expiry date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().BoolVar(&revoke, "revoke", false, "Revoke premium instead of granting it")
	cmd.MarkFlagsMutuallyExclusive("days", "until", "revoke")
	return cmd
}

// premiumExpiry returns nil for an open-ended grant.
func premiumExpiry(days int, until string, now time.Time) (*time.Time, error) {
	until = strings.TrimSpace(until)
	switch {
	case days < 0:
		return nil, fmt.Errorf("--days must be positive")
	case days > 0:
		expiry := now.AddDate(0, 0, days)
		return &expiry, nil
	case until == "":
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if expiry, err := time.ParseInLocation(layout, until, time.Local); err == nil {
			if !expiry.After(now) {
				return nil, fmt.Errorf("--until %s is in the past", until)
			}
			return &expiry, nil
		}
	}
	return nil, fmt.Errorf("invalid --until %q", until)
}

func parseToggle(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", value)
	}
}
