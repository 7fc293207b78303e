package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	rootCmd, cli := NewRootCommand()

	err := rootCmd.Execute()
	if err != nil {
		var ce *cliError
		if errors.As(err, &ce) {
			fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), ce.err)
			os.Exit(ce.code)
		}
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(exitInvalidInput)
	}

	os.Exit(cli.exitCode)
}
