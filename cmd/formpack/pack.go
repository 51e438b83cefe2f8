package main

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/lk2023060901/formpack-go/application"
	"github.com/lk2023060901/formpack-go/pkg/formpack"
)

type packFlags struct {
	json  string
	files []string
}

func (f *packFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.json, "json", "", "JSON document to pack")
	cmd.Flags().StringArrayVar(&f.files, "file", nil, "attach a file as key=path, key may be a dotted path like posts.0.image")
}

// envelope 根据 flag 构造 Envelope，协议取自配置。
func (f *packFlags) envelope(app *application.Application, fs afero.Fs) (*formpack.Envelope, error) {
	graph, err := buildGraph(fs, f.json, f.files)
	if err != nil {
		return nil, err
	}
	packer, err := formpack.NewPacker(formpack.WithPackerProtocol(app.Config().Unpack.Protocol()))
	if err != nil {
		return nil, err
	}
	return packer.Pack(graph)
}

func newPackCmd(app *application.Application) *cobra.Command {
	var (
		flags packFlags
		out   string
	)
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "write a multipart/form-data body for a JSON document and files",
		Long: `Write the encoded body to --out (or stdout) and print its Content-Type.
When the body goes to stdout the Content-Type is printed to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs := afero.NewOsFs()
			env, err := flags.envelope(app, fs)
			if err != nil {
				return err
			}
			return writeEnvelope(fs, env, out, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	return cmd
}

func writeEnvelope(fs afero.Fs, env *formpack.Envelope, out string, stdout, stderr io.Writer) error {
	if out == "" || out == "-" {
		if _, err := env.WriteTo(stdout); err != nil {
			return err
		}
		_, err := fmt.Fprintln(stderr, env.ContentType())
		return err
	}

	f, err := fs.Create(out)
	if err != nil {
		return err
	}
	if _, err := env.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, env.ContentType())
	return err
}
