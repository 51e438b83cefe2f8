package main

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/lk2023060901/formpack-go/application"
	"github.com/lk2023060901/formpack-go/pkg/formpack/transport"
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

func newSendCmd(app *application.Application) *cobra.Command {
	var (
		flags packFlags
		url   string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "pack a JSON document and files and POST them to a receiver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				return merr.WrapErrParameterInvalidMsg("--url is required")
			}
			env, err := flags.envelope(app, afero.NewOsFs())
			if err != nil {
				return err
			}
			client, err := transport.NewClient(app.Config().Client)
			if err != nil {
				return err
			}

			resp, err := client.Send(cmd.Context(), url, env)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			fmt.Fprintln(cmd.ErrOrStderr(), resp.Status)
			if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
				return err
			}
			if resp.StatusCode >= 400 {
				return fmt.Errorf("receiver responded %s", resp.Status)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&url, "url", "", "receiver URL")
	cmd.Flags().String("encoding", "", "request Content-Encoding (gzip, zstd)")
	cmd.Flags().Duration("timeout", 0, "timeout of a single attempt")
	cmd.Flags().Uint("attempts", 0, "maximum number of attempts")
	return cmd
}
