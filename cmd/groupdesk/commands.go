package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/groupdesk/internal/config"
	"github.com/kalambet/groupdesk/internal/pipeline"
	"github.com/kalambet/groupdesk/internal/router"
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration summary and server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		printStatus("Server", "%s", cfg.Server.Addr())
		printStatus("Storage", "%s (%s)", cfg.Storage.Driver, cfg.Storage.Target())
		printStatus("Classifier", "%s %s @ %s", cfg.Classifier.Backend, cfg.Classifier.Model, cfg.Classifier.BaseURL)
		printStatus("Archive", "%s", onOff(cfg.Archive.Enabled))
		printStatus("Orders", "%s", onOff(cfg.Order.Enabled))
		printStatus("Alerts", "%s", onOff(cfg.Notify.Enabled))

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := checkHealth(cmd.Context(), client); err != nil {
			printStatus("Health", "%s", colorize(colorRed, err.Error()))
			return nil
		}
		printStatus("Health", "%s", colorize(colorGreen, "ok"))
		return nil
	},
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func checkHealth(ctx context.Context, c *apiClient) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, http.MethodGet, "/health", nil, &body); err != nil {
		return err
	}
	if body.Status != "ok" {
		return fmt.Errorf("unexpected status %q", body.Status)
	}
	return nil
}

// --- send ---

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Push one chat message through the running server",
	Long: `Push one chat message through the running server.

Examples:
  groupdesk send --group wr_lobby --sender wm_1001 --text "3-201 厨房水管漏水"
  groupdesk send --group wr_lobby --sender wm_1001 --image https://cdn.example.com/leak.jpg`,
	RunE: func(cmd *cobra.Command, args []string) error {
		group, _ := cmd.Flags().GetString("group")
		sender, _ := cmd.Flags().GetString("sender")
		text, _ := cmd.Flags().GetString("text")
		image, _ := cmd.Flags().GetString("image")

		if group == "" || sender == "" {
			return errors.New("--group and --sender are required")
		}
		if text == "" && image == "" {
			return errors.New("one of --text or --image is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := sendMessage(cmd.Context(), client, router.Message{
			SenderID:        sender,
			GroupID:         group,
			Content:         text,
			ImageURL:        image,
			TimestampMillis: time.Now().UnixMilli(),
		})
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

func sendMessage(ctx context.Context, c *apiClient, msg router.Message) (pipeline.Result, error) {
	var res pipeline.Result
	if err := c.call(ctx, http.MethodPost, "/api/wechat/webhook", msg, &res); err != nil {
		return pipeline.Result{}, err
	}
	return res, nil
}

func init() {
	sendCmd.Flags().String("group", "", "group (room) id")
	sendCmd.Flags().String("sender", "", "sender id")
	sendCmd.Flags().String("text", "", "message text")
	sendCmd.Flags().String("image", "", "image URL")
}

// --- drafts ---

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "Inspect ticket drafts",
}

var draftsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List drafts not yet submitted as orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		group, _ := cmd.Flags().GetString("group")
		limit, _ := cmd.Flags().GetInt("limit")
		if group == "" {
			return errors.New("--group is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		drafts, err := listDrafts(cmd.Context(), client, group, limit)
		if err != nil {
			return err
		}
		if len(drafts) == 0 {
			printStatus("Drafts", "none pending for %s", group)
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSENDER\tCREATED\tCONTENT")
		for _, d := range drafts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.SenderID, d.CreatedAt.Local().Format(time.DateTime), truncate(d.Content, 60))
		}
		return w.Flush()
	},
}

type draftRow struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func listDrafts(ctx context.Context, c *apiClient, group string, limit int) ([]draftRow, error) {
	q := url.Values{"groupId": {group}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var drafts []draftRow
	if err := c.call(ctx, http.MethodGet, "/api/wechat/drafts?"+q.Encode(), nil, &drafts); err != nil {
		return nil, err
	}
	return drafts, nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func init() {
	draftsListCmd.Flags().String("group", "", "group (room) id")
	draftsListCmd.Flags().Int("limit", 0, "maximum drafts to list")
	draftsCmd.AddCommand(draftsListCmd)
}

// --- owners ---

var ownersCmd = &cobra.Command{
	Use:   "owners",
	Short: "Manage sender to owner bindings",
}

var ownersShowCmd = &cobra.Command{
	Use:   "show <senderId>",
	Short: "Show the owner bound to a sender",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var owner json.RawMessage
		if err := client.call(cmd.Context(), http.MethodGet, "/api/owners/"+url.PathEscape(args[0]), nil, &owner); err != nil {
			return err
		}
		return printJSON(owner)
	},
}

var ownersSetCmd = &cobra.Command{
	Use:   "set <senderId>",
	Short: "Bind a sender to a room and name",
	Long: `Bind a sender to a room and name.

Examples:
  groupdesk owners set wm_1001 --room 3-201 --name 张三 --phone 13800000000
  groupdesk owners set wm_1001 --room 3-201 --house 4401`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, _ := cmd.Flags().GetString("room")
		name, _ := cmd.Flags().GetString("name")
		phone, _ := cmd.Flags().GetString("phone")
		house, _ := cmd.Flags().GetInt64("house")
		if room == "" && name == "" {
			return errors.New("one of --room or --name is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := setOwner(cmd.Context(), client, args[0], ownerBody{
			RoomNumber: room, Name: name, Phone: phone, HouseID: house,
		}); err != nil {
			return err
		}
		printSuccess("Bound %s", args[0])
		return nil
	},
}

type ownerBody struct {
	RoomNumber string `json:"roomNumber"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	HouseID    int64  `json:"houseId,omitempty"`
}

func setOwner(ctx context.Context, c *apiClient, senderID string, body ownerBody) error {
	return c.call(ctx, http.MethodPut, "/api/owners/"+url.PathEscape(senderID), body, nil)
}

func init() {
	ownersSetCmd.Flags().String("room", "", "room number, e.g. 3-201")
	ownersSetCmd.Flags().String("name", "", "owner name")
	ownersSetCmd.Flags().String("phone", "", "contact phone")
	ownersSetCmd.Flags().Int64("house", 0, "house id in the order system")
	ownersCmd.AddCommand(ownersShowCmd, ownersSetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show all config values (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tVALUE\tENV")
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "%s\t%s\t%s\n", k.Key, k.Value, k.EnvVar)
		}
		return w.Flush()
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a config value to the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return fmt.Errorf("%w\nvalid keys: %s", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s in %s", args[0], config.FilePath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
