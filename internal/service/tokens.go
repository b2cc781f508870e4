package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	apperrors "github.com/Kiryzsuuu/call-agent/internal/errors"
	"github.com/Kiryzsuuu/call-agent/internal/model"
)

// Order payload layout after ORDER_CONFIRMED:
// NAME|PHONE|EMAIL|ADDRESS|ITEM1,ITEM2|TOTAL|NOTES
const (
	orderFieldName = iota
	orderFieldPhone
	orderFieldEmail
	orderFieldAddress
	orderFieldItems
	orderFieldTotal
	orderFieldNotes

	minOrderFields = orderFieldTotal + 1
)

var amountCleaner = strings.NewReplacer("Rp", "", "rp", "", "RP", "", ".", "", ",", "", " ", "")

// TokenScan is the result of scanning one message for control tokens.
type TokenScan struct {
	Tokens []model.ControlToken
	// Order is set when ORDER_CONFIRMED carried a valid payload.
	Order *model.OrderDetails
	// OrderErr is a MalformedPayload error when the payload did not parse.
	OrderErr error
}

func (s TokenScan) Has(tok model.ControlToken) bool {
	for _, t := range s.Tokens {
		if t == tok {
			return true
		}
	}
	return false
}

// ScanControlTokens finds every control token embedded in text and parses
// the order payload that follows ORDER_CONFIRMED.
func ScanControlTokens(text string) TokenScan {
	var scan TokenScan
	for _, tok := range model.ControlTokens {
		if strings.Contains(text, string(tok)) {
			scan.Tokens = append(scan.Tokens, tok)
		}
	}
	if scan.Has(model.TokenOrderConfirmed) {
		scan.Order, scan.OrderErr = ParseOrderConfirmation(text)
	}
	return scan
}

// ParseOrderConfirmation reads the pipe-delimited payload between the first
// ORDER_CONFIRMED and the next control token (or the end of text). Email and
// notes are optional; everything else is required.
func ParseOrderConfirmation(text string) (*model.OrderDetails, error) {
	_, payload, found := strings.Cut(text, string(model.TokenOrderConfirmed))
	if !found {
		return nil, apperrors.MalformedPayload("missing ORDER_CONFIRMED token")
	}
	for _, tok := range model.ControlTokens {
		if i := strings.Index(payload, string(tok)); i >= 0 {
			payload = payload[:i]
		}
	}

	fields := strings.Split(strings.TrimSpace(payload), "|")
	if len(fields) < minOrderFields {
		return nil, apperrors.MalformedPayload(
			fmt.Sprintf("expected at least %d fields, got %d", minOrderFields, len(fields)))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	order := &model.OrderDetails{
		CustomerName:    fields[orderFieldName],
		CustomerPhone:   fields[orderFieldPhone],
		CustomerEmail:   fields[orderFieldEmail],
		DeliveryAddress: fields[orderFieldAddress],
	}
	if order.CustomerName == "" {
		return nil, apperrors.MalformedPayload("customer name is empty")
	}
	if order.CustomerPhone == "" {
		return nil, apperrors.MalformedPayload("customer phone is empty")
	}

	for _, item := range strings.Split(fields[orderFieldItems], ",") {
		if item = strings.TrimSpace(item); item != "" {
			order.OrderItems = append(order.OrderItems, item)
		}
	}
	if len(order.OrderItems) == 0 {
		return nil, apperrors.MalformedPayload("order has no items")
	}

	total, err := ParseAmount(fields[orderFieldTotal])
	if err != nil {
		return nil, apperrors.MalformedPayload(err.Error())
	}
	order.TotalAmount = total

	if len(fields) > orderFieldNotes {
		order.Notes = fields[orderFieldNotes]
	}
	return order, nil
}

// ParseAmount reads a rupiah amount such as "Rp 35.000". Dots and commas are
// treated as thousands separators.
func ParseAmount(s string) (float64, error) {
	cleaned := amountCleaner.Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, fmt.Errorf("total amount is empty")
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("total amount %q is not a number", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("total amount %q is negative", s)
	}
	return v, nil
}
