package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gebv/tbcpay"
	"github.com/gebv/tbcpay/config"
	"github.com/gebv/tbcpay/httputils"
	"github.com/gebv/tbcpay/provider"
	"github.com/gebv/tbcpay/services/auditor"
	"github.com/gebv/tbcpay/services/installments"
	"github.com/gebv/tbcpay/services/updater"
)

const commandTimeout = 30 * time.Second

// withProvider runs fn against a configured provider with a fresh request id.
func withProvider(cmd *cobra.Command, fn func(ctx context.Context, d *deps) (interface{}, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()
	ctx = httputils.WithRequestID(ctx, "cli-"+uuid.NewString())

	d, err := setupProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	out, err := fn(ctx, d)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func tokenCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Obtain an OAuth access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvider(cmd, func(ctx context.Context, d *deps) (interface{}, error) {
				tm := d.Provider.Tokens()
				if force {
					if err := tm.Invalidate(ctx); err != nil {
						return nil, errors.Wrap(err, "Failed invalidate token")
					}
				}
				if _, err := tm.Token(ctx); err != nil {
					return nil, err
				}
				return tm.Cached(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Drop the cached token first.")
	return cmd
}

func applyCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Submit an installment application from a JSON file",
		Long: `Reads {"invoiceId": ..., "priceTotal": ..., "products": [...]} from --file
(or stdin when --file is "-"). A random invoice id is used when none is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readApplyRequest(cmd, file)
			if err != nil {
				return err
			}
			cart := tbcpay.NewLedger()
			if err := cart.AddItems(req.Products); err != nil {
				return err
			}
			return withProvider(cmd, func(ctx context.Context, d *deps) (interface{}, error) {
				return d.Provider.Apply(ctx, cart, req.InvoiceID, req.PriceTotal)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Application JSON file.")
	return cmd
}

func readApplyRequest(cmd *cobra.Command, file string) (*installments.ApplyRequest, error) {
	in := cmd.InOrStdin()
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, errors.Wrap(err, "Failed open application file")
		}
		defer f.Close()
		in = f
	}
	var req installments.ApplyRequest
	dec := json.NewDecoder(in)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return nil, errors.Wrap(err, "Failed decode application")
	}
	if req.InvoiceID == "" {
		req.InvoiceID = uuid.NewString()
	}
	return &req, nil
}

func confirmCmd() *cobra.Command {
	var (
		invoiceID  string
		priceTotal string
	)
	cmd := &cobra.Command{
		Use:   "confirm SESSION_ID",
		Short: "Confirm an installment application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := tbcpay.ParseAmount(priceTotal)
			if err != nil {
				return errors.Wrap(err, "Failed parse --price-total")
			}
			return withProvider(cmd, func(ctx context.Context, d *deps) (interface{}, error) {
				return d.Provider.Confirm(ctx, invoiceID, args[0], total)
			})
		},
	}
	cmd.Flags().StringVar(&invoiceID, "invoice-id", "", "Invoice id used at apply.")
	cmd.Flags().StringVar(&priceTotal, "price-total", "", "Total price, for example 15.50.")
	_ = cmd.MarkFlagRequired("invoice-id")
	_ = cmd.MarkFlagRequired("price-total")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel SESSION_ID",
		Short: "Cancel an installment application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvider(cmd, func(ctx context.Context, d *deps) (interface{}, error) {
				return d.Provider.Cancel(ctx, args[0])
			})
		},
	}
}

func auditCmd() *cobra.Command {
	var (
		f            updater.Filter
		providerName string
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print audit records published to NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPathF)
			if err != nil {
				return err
			}
			if cfg.NATS.URL == "" {
				return errors.New("nats.url is not set")
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			nc, err := nats.Connect(cfg.NATS.URL, nats.Name("tbc-installment-audit"))
			if err != nil {
				return errors.Wrap(err, "Failed connect to nats")
			}
			defer nc.Close()
			ec, err := nats.NewEncodedConn(nc, nats.JSON_ENCODER)
			if err != nil {
				return errors.Wrap(err, "Failed new encoded conn")
			}

			f.Provider = provider.Provider(providerName)
			enc := json.NewEncoder(cmd.OutOrStdout())
			return updater.NewServer(ec, cfg.NATS.Subject).Follow(ctx, f, func(r *auditor.Record) error {
				return enc.Encode(r)
			})
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "Only records of this provider (tbc_installment).")
	cmd.Flags().StringVar(&f.Operation, "operation", "", "Only records of this operation (token, apply, confirm, cancel).")
	cmd.Flags().StringVar(&f.RequestID, "request-id", "", "Only records of this request id.")
	return cmd
}
