// qr.go - QR code decoding and generation

package main

import (
	"fmt"
	"os"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/qr"
	"github.com/spf13/cobra"
)

func (c *cli) qrCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Decode or generate QR codes",
	}
	cmd.AddCommand(c.qrDecodeCommand(), c.qrEncodeCommand())
	return cmd
}

func (c *cli) qrDecodeCommand() *cobra.Command {
	var withText bool
	cmd := &cobra.Command{
		Use:   "decode <image|->",
		Short: "Print the QR codes found in an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, source, err := readInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			open := c.open
			if withText {
				open = c.openLoaded
			}
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.RecognizeQR(cmd.Context(), data, source)
			if err != nil {
				return err
			}
			if res.Combined == "" {
				fmt.Fprintln(c.stderr, "No QR code found")
				return nil
			}
			_, err = fmt.Fprintln(c.stdout, res.Combined)
			return err
		},
	}
	cmd.Flags().BoolVar(&withText, "with-text", false, "Also load the model and recognize the text around the codes")
	return cmd
}

func (c *cli) qrEncodeCommand() *cobra.Command {
	var (
		size   int
		output string
	)
	cmd := &cobra.Command{
		Use:   "encode <text>",
		Short: "Write text as a QR code PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			png, err := qr.Encode(args[0], size)
			if err != nil {
				return err
			}
			if output == "-" {
				_, err = c.stdout.Write(png)
				return err
			}
			if err := os.WriteFile(output, png, 0o644); err != nil {
				return apperrors.NewIOError("write_qr", output, err)
			}
			fmt.Fprintf(c.stderr, "Saved to %s\n", output)
			return nil
		},
	}
	cmd.Flags().IntVarP(&size, "size", "s", qr.DefaultSize, "Image size in pixels")
	cmd.Flags().StringVarP(&output, "output", "o", "qrcode.png", "Output file, - for stdout")
	return cmd
}
