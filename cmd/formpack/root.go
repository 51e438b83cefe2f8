package main

import (
	"fmt"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/lk2023060901/formpack-go/application"
	"github.com/lk2023060901/formpack-go/pkg/log"
)

// Version 为 formpack 命令行的版本号。
const Version = "0.3.0"

// flagKeys 为命令行 flag 到配置键的映射，同名 flag 在不同子命令中含义相同。
var flagKeys = map[string]string{
	"log-level":       "log.level",
	"endpoint":        "server.endpoint",
	"path":            "server.path",
	"max-body-size":   "server.maxBodySize",
	"upload-dir":      "unpack.uploadDir",
	"hash":            "unpack.hash",
	"keep-extensions": "unpack.keepExtensions",
	"max-file-size":   "unpack.maxFileSize",
	"max-json-size":   "unpack.maxJSONSize",
	"json-field":      "unpack.jsonField",
	"token-prefix":    "unpack.tokenPrefix",
	"encoding":        "client.contentEncoding",
	"timeout":         "client.timeout",
	"attempts":        "client.maxAttempts",
}

func newRootCmd() *cobra.Command {
	app := application.New()

	root := &cobra.Command{
		Use:   "formpack",
		Short: "pack JSON graphs with binary attachments into multipart/form-data",
		Long: fmt.Sprintf(`formpack (v%s)

Encode a JSON document plus files into a single multipart/form-data body,
send it over HTTP, or run a receiver that reconstructs the original graph.
Every option can also be set in the config file or through FORMPACK_<KEY>
environment variables (e.g. FORMPACK_UNPACK_MAXFILESIZE=1048576).`, Version),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load(".env")
			_ = godotenv.Load(".env.local")

			if err := app.BindFlags(cmd.Flags(), flagKeys); err != nil {
				return err
			}
			configPath, _ := cmd.Flags().GetString("config")
			if err := app.Load(configPath); err != nil {
				return err
			}
			if _, err := maxprocs.Set(maxprocs.Logger(log.S().Debugf)); err != nil {
				log.L().Warn("failed to set GOMAXPROCS", zap.Error(err))
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = log.Sync()
		},
	}
	root.PersistentFlags().String("config", "", "config file (yaml or json), defaults to $FORMPACK_CONFIG_FILE_PATH or ./formpack.yaml")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("json-field", "", "reserved form field carrying the JSON document")
	root.PersistentFlags().String("token-prefix", "", "prefix of attachment tokens")

	root.AddCommand(
		newPackCmd(app),
		newSendCmd(app),
		newServeCmd(app),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version number of formpack",
		// 不需要加载配置。
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "formpack v%s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
