package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/socialbet/arena/internal/client"
)

func renderResult(w io.Writer, res client.Result) error {
	if !res.Success {
		_, err := fmt.Fprintf(w, "error [%s]: %s\n", res.Code, res.Error)
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAutoWrapText(false)

	r := res.PaymentResponse
	rows := [][2]string{
		{"message", r.Message},
		{"status", r.Status},
		{"bet", r.BetID},
		{"description", r.Description},
		{"stake", r.StakeAmount},
		{"deadline", r.Deadline},
		{"creator", r.CreatorAddress},
		{"participant", r.ParticipantAddress},
		{"amount", r.Amount},
		{"transaction", res.TransactionHash},
	}
	for _, row := range rows {
		if row[1] != "" {
			table.Append([]string{row[0], row[1]})
		}
	}
	table.Render()
	return nil
}

func renderJSON(w io.Writer, res client.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func renderBalance(w io.Writer, addr, currency string, minor *big.Int, decimals int32) error {
	amount := decimal.NewFromBigInt(minor, -decimals)
	_, err := fmt.Fprintf(w, "%s: %s %s\n", addr, amount.String(), currency)
	return err
}
