package cli

import (
	"fmt"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <method> [params-json]",
	Short: "Send a CDP command and print its result",
	Long: `Sends one CDP command, waits for the matching response and prints its result.

Examples:
  cdpctl send Browser.getVersion
  cdpctl send Runtime.evaluate '{"expression":"1+1"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	method := args[0]

	var params any
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("params for %s are not valid JSON", method)
		}
		params = json.RawMessage(args[1])
	}

	s, err := connect(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.client.Command(method, params)
	if err != nil {
		return err
	}
	debugf("sent %s as command %d", method, id)

	result, err := s.client.Wait(id, cfg.Timeout)
	if err != nil {
		return err
	}
	return printRaw(result)
}
