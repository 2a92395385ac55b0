package main

import (
	"errors"
	"fmt"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/dukerupert/smartbin/internal/claim"
	"github.com/dukerupert/smartbin/internal/config"
	"github.com/dukerupert/smartbin/internal/logging"
	"github.com/dukerupert/smartbin/internal/model"
)

func newClaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Developer helpers for waste input claims",
	}
	cmd.AddCommand(newClaimCreateCmd())
	return cmd
}

// newClaimCreateCmd simulates a bin: it records an unclaimed deposit and
// prints the payload the bin would encode in its QR code, optionally
// rendering the code itself.
func newClaimCreateCmd() *cobra.Command {
	var (
		binID     int64
		plastic   int
		cans      int
		sessionID string
		pngPath   string
		pngSize   int
		terminal  bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Insert an unclaimed deposit and print its QR payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if plastic < 0 || cans < 0 {
				return errors.New("--plastic and --can must not be negative")
			}
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

			res, err := open(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer res.Close()

			if sessionID == "" {
				if sessionID, err = claim.NewSessionID(); err != nil {
					return err
				}
			}
			influx := model.Influx{model.CategoryPlasticBottle: plastic, model.CategoryCan: cans}
			c, err := res.backend.CreateClaim(cmd.Context(), binID, sessionID, influx)
			if err != nil {
				return err
			}

			logger.Info("claim created", "bin_id", c.BinID, "session_id", c.SessionID,
				"points", cfg.Points.Policy().Points(c.Influx))
			payload := claim.FormatPayload(c.SessionID)
			fmt.Fprintln(cmd.OutOrStdout(), payload)

			if pngPath == "" && !terminal {
				return nil
			}
			code, err := qrcode.New(payload, qrcode.Medium)
			if err != nil {
				return fmt.Errorf("encode qr: %w", err)
			}
			if terminal {
				fmt.Fprint(cmd.OutOrStdout(), code.ToSmallString(false))
			}
			if pngPath != "" {
				if err := code.WriteFile(pngSize, pngPath); err != nil {
					return fmt.Errorf("write %s: %w", pngPath, err)
				}
				logger.Info("qr code written", "path", pngPath)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&binID, "bin", 1, "bin id")
	cmd.Flags().IntVar(&plastic, "plastic", 0, "plastic bottles deposited")
	cmd.Flags().IntVar(&cans, "can", 0, "cans deposited")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (random when empty)")
	cmd.Flags().StringVar(&pngPath, "png", "", "also write the QR code as a PNG to this path")
	cmd.Flags().IntVar(&pngSize, "png-size", 256, "PNG width and height in pixels")
	cmd.Flags().BoolVar(&terminal, "qr", false, "also draw the QR code in the terminal")
	return cmd
}
