package cmd

import "github.com/spf13/cobra"

var BuildVersion = "dev"

var rootCmd = &cobra.Command{
	Use:   "portalauth",
	Short: "Security Portal authentication CLI",
	Long:  "CLI for resolving Security Portal credentials and managing the audit schema.",
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of the portalauth CLI",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
}

func Execute() error {
	return rootCmd.Execute()
}
