package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/signal_bridge/internal/app/domain/message"
)

type hashOutput struct {
	MsgHash      common.Hash `json:"msgHash"`
	SentSignal   common.Hash `json:"sentSignal"`
	FailedSignal common.Hash `json:"failedSignal"`
}

func hashCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "hash [file|-]",
		Short: "Print the identifier and signals of a message given as JSON",
		Long: "hash reads a message as JSON from a file or stdin and prints its identifier\n" +
			"and both signal identifiers. --path selects the message inside a larger\n" +
			"document, e.g. an event: --path message.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := "-"
			if len(args) == 1 {
				src = args[0]
			}
			data, err := readInput(cmd.InOrStdin(), src)
			if err != nil {
				return err
			}
			out, err := hashMessage(data, path)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "gjson path of the message within the input")
	return cmd
}

func readInput(stdin io.Reader, src string) ([]byte, error) {
	if src == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(src)
}

func hashMessage(data []byte, path string) (hashOutput, error) {
	if !gjson.ValidBytes(data) {
		return hashOutput{}, fmt.Errorf("input is not valid JSON")
	}
	if path != "" {
		res := gjson.GetBytes(data, path)
		if !res.Exists() {
			return hashOutput{}, fmt.Errorf("path %q not found in input", path)
		}
		if !res.IsObject() {
			return hashOutput{}, fmt.Errorf("path %q is not an object", path)
		}
		data = []byte(res.Raw)
	}

	var msg message.Message
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return hashOutput{}, fmt.Errorf("decode message: %w", err)
	}
	id, err := msg.ID()
	if err != nil {
		return hashOutput{}, err
	}
	return hashOutput{
		MsgHash:      id,
		SentSignal:   message.SentSignal(id),
		FailedSignal: message.FailedSignal(id),
	}, nil
}
