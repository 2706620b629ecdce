// Package commands implementa os comandos CLI do ZapFlow usando cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd cria o comando raiz do CLI com todos os subcomandos registrados.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zapflow",
		Short: "ZapFlow - WhatsApp conversation engine",
		Long: `ZapFlow is a WhatsApp automation engine: AI chat with bounded
memory, first-contact registration, image generation and sandboxed
script execution — all driven by chat commands.

Examples:
  zapflow serve
  zapflow serve --config ./config.yaml
  zapflow sweep`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSweepCmd(),
	)

	// Flags globais.
	rootCmd.PersistentFlags().StringP("config", "c", "", "caminho para o arquivo de configuração")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "habilita logs detalhados")

	return rootCmd
}
