package main

import (
	"bufio"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"ems.org/internal/auth"
)

// hashPasswordCmd prints a stored-form hash, for seeding records by hand.
func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the bcrypt hash of a password (reads stdin when no argument is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no password on stdin")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password is empty")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			cmd.Println(hash)
			return nil
		},
	}
}
