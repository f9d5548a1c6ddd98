// keychain.go: The keychain and send subcommands
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agilira/quackd"
	"github.com/spf13/cobra"
)

func newKeychainCmd(root *rootOptions) *cobra.Command {
	var host string
	c := &cobra.Command{
		Use:   "keychain",
		Short: "List a party's local keychain",
		Long: `List a party's local keychain.

Every entry is checked against the key its source party holds: a matching
digest is marked "ok", anything else "MISMATCH".`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) (err error) {
			rt, err := openRuntime(root.configPath)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, rt.Close()) }()

			printKeychain(c.OutOrStdout(), rt.kc, host)
			return nil
		},
	}
	c.Flags().StringVar(&host, "host", "", "Party whose keychain is listed")
	_ = c.MarkFlagRequired("host")
	return c
}

func printKeychain(out io.Writer, kc *quackd.KeyChain, host string) {
	rows, ok := kc.Describe(host)
	switch {
	case !ok:
		fmt.Fprintf(out, "%s's local keychain hasn't been created!\n", host)
		return
	case len(rows) == 0:
		fmt.Fprintf(out, "%s's local keychain is empty!\n", host)
		return
	}

	fmt.Fprintf(out, "%s's local keychain:\n", host)
	for i, r := range rows {
		mark := "MISMATCH"
		if r.Validation.Match {
			mark = "ok"
		}
		stored := r.Validation.Stored
		if !r.Validation.HasStored {
			stored = "-"
		}
		fmt.Fprintf(out, "└ %d. %s -> %s : key `%s` %s %s %s\n",
			i+1, r.Pair.Source, r.Pair.Dest, r.Entry.Key, mark, stored,
			r.Entry.EnrolledAt.Format(time.RFC3339))
	}
}

func newSendCmd(root *rootOptions) *cobra.Command {
	var (
		source  string
		dest    string
		members []string
	)
	c := &cobra.Command{
		Use:   "send MESSAGE...",
		Short: "Seal a message with the source's key and open it for every member",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) (err error) {
			rt, err := openRuntime(root.configPath)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, rt.Close()) }()

			if len(members) == 0 {
				members = []string{dest}
			}
			return sendMessage(c.OutOrStdout(), rt.kc, source, dest, members, strings.Join(args, " "))
		},
	}
	c.Flags().StringVar(&source, "source", "", "Sending party")
	c.Flags().StringVar(&dest, "dest", "", "Destination party or group")
	c.Flags().StringSliceVar(&members, "members", nil, "Parties that open the message (default: --dest)")
	_ = c.MarkFlagRequired("source")
	_ = c.MarkFlagRequired("dest")
	return c
}

func sendMessage(out io.Writer, kc *quackd.KeyChain, source, dest string, members []string, text string) error {
	entry, ok := kc.Query(source, source, dest)
	if !ok {
		return fmt.Errorf("no key for %s -> %s on %s's keychain; run an exchange first", source, dest, source)
	}
	token, err := quackd.SealMessage(strings.TrimSpace(text), entry.Key)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s -> %s : %s\n", source, dest, token)

	for _, m := range members {
		mEntry, ok := kc.Query(m, source, dest)
		if !ok {
			fmt.Fprintf(out, "%s: unable to decode message for %s -> %s (key not present on local keychain)\n", m, source, dest)
			continue
		}
		plain, err := quackd.OpenMessage(token, mEntry.Key)
		if err != nil {
			fmt.Fprintf(out, "%s: unable to decode message for %s -> %s: %v\n", m, source, dest, err)
			continue
		}
		fmt.Fprintf(out, "%s: %s -> %s : %s\n", m, source, dest, plain)
	}
	return nil
}
