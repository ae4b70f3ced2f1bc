// Package cli implements catalogctl, a signing client for the catalog API.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"ppmt-amp-api/internal/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const defaultAppID = "ppmt-amp-ios-v1"

// options are the flags shared by every command.
type options struct {
	secret   string
	appID    string
	deviceID string
	baseURL  string
	asJSON   bool
	limit    int
}

func (o *options) client() (*Client, error) {
	secret := o.secret
	if secret == "" {
		secret = os.Getenv("APP_SECRET")
	}
	if secret == "" {
		return nil, errors.New("a secret is required: pass --secret or set APP_SECRET")
	}
	deviceID := strings.TrimSpace(o.deviceID)
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	return &Client{
		BaseURL:  o.baseURL,
		Secret:   []byte(secret),
		AppID:    o.appID,
		DeviceID: deviceID,
	}, nil
}

// NewRootCmd builds the catalogctl command tree writing to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Signed client for the PPMT-AMP catalog API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.secret, "secret", "", "shared app secret (default $APP_SECRET)")
	pf.StringVar(&opts.appID, "app-id", defaultAppID, "app identifier")
	pf.StringVar(&opts.deviceID, "device-id", "", "device identifier (default: random uuid)")

	root.AddCommand(newSignCmd(opts), newPricesCmd(opts), newSeriesCmd(opts))
	return root
}

func newSignCmd(opts *options) *cobra.Command {
	var method, path string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print signed authentication parameters for the current time",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			params := c.SignedParams(method, path)

			if opts.asJSON {
				flat := make(map[string]string, len(params))
				for k := range params {
					flat[k] = params.Get(k)
				}
				return writeJSON(cmd.OutOrStdout(), flat)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), params.Encode())
			return err
		},
	}
	cmd.Flags().StringVar(&method, "method", http.MethodGet, "HTTP method to sign")
	cmd.Flags().StringVar(&path, "path", "/prices", "route to sign")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print parameters as JSON")
	return cmd
}

func addFetchFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().StringVar(&opts.baseURL, "url", "http://localhost:8080", "API base URL")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the raw JSON response")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum number of records")
}

func newPricesCmd(opts *options) *cobra.Command {
	var f struct {
		seriesID, productID, ipCharacter, category, rarity, startDate, endDate string
	}

	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Query item prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := map[string]string{
				"seriesId":    f.seriesID,
				"productId":   f.productID,
				"ipCharacter": f.ipCharacter,
				"category":    f.category,
				"rarity":      f.rarity,
				"startDate":   f.startDate,
				"endDate":     f.endDate,
			}
			return fetch(cmd, opts, "/prices", filters, func(w io.Writer, data json.RawMessage) error {
				var items []model.Item
				if err := json.Unmarshal(data, &items); err != nil {
					return fmt.Errorf("decode items: %w", err)
				}
				renderItems(w, items)
				return nil
			})
		},
	}
	addFetchFlags(cmd, opts)
	cmd.Flags().StringVar(&f.seriesID, "series-id", "", "series identifier")
	cmd.Flags().StringVar(&f.productID, "product-id", "", "product identifier")
	cmd.Flags().StringVar(&f.ipCharacter, "ip-character", "", "character tag")
	cmd.Flags().StringVar(&f.category, "category", "", "category")
	cmd.Flags().StringVar(&f.rarity, "rarity", "", "rarity (Common, Rare, Secret)")
	cmd.Flags().StringVar(&f.startDate, "start-date", "", "inclusive lower timestamp bound")
	cmd.Flags().StringVar(&f.endDate, "end-date", "", "inclusive upper timestamp bound")
	return cmd
}

func newSeriesCmd(opts *options) *cobra.Command {
	var seriesID, ipCharacter string

	cmd := &cobra.Command{
		Use:   "series",
		Short: "Query series",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := map[string]string{"seriesId": seriesID, "ipCharacter": ipCharacter}
			return fetch(cmd, opts, "/series", filters, func(w io.Writer, data json.RawMessage) error {
				var series []model.Series
				if err := json.Unmarshal(data, &series); err != nil {
					return fmt.Errorf("decode series: %w", err)
				}
				renderSeries(w, series)
				return nil
			})
		},
	}
	addFetchFlags(cmd, opts)
	cmd.Flags().StringVar(&seriesID, "series-id", "", "series identifier")
	cmd.Flags().StringVar(&ipCharacter, "ip-character", "", "character tag")
	return cmd
}

func fetch(cmd *cobra.Command, opts *options, path string, filters map[string]string, render func(io.Writer, json.RawMessage) error) error {
	c, err := opts.client()
	if err != nil {
		return err
	}
	if opts.limit > 0 {
		filters["limit"] = fmt.Sprint(opts.limit)
	}

	reply, err := c.Get(cmd.Context(), path, filters)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if opts.asJSON {
		if _, err := out.Write(append(reply.Raw, '\n')); err != nil {
			return err
		}
	} else if reply.Envelope.Success {
		if err := render(out, reply.Envelope.Data); err != nil {
			return err
		}
	}

	if reply.Envelope.RateLimitRemaining != nil && !opts.asJSON {
		line := fmt.Sprintf("quota: %d remaining", *reply.Envelope.RateLimitRemaining)
		if reply.Envelope.RateLimitReset != nil {
			line += ", resets " + reply.Envelope.RateLimitReset.Local().Format("15:04:05")
		}
		fmt.Fprintln(out, line)
	}

	if !reply.Envelope.Success {
		return fmt.Errorf("%s (HTTP %d)", reply.Envelope.Message, reply.StatusCode)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
