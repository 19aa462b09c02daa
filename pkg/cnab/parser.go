// Package cnab decodes fixed-width CNAB transaction lines into Transaction
// records.
package cnab

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// LineLength is the exact byte length of a well-formed CNAB line.
	LineLength = 80

	offsetNature      = 0
	lenNature         = 1
	offsetDate        = 1
	lenDate           = 8
	offsetAmount      = 9
	lenAmount         = 10
	offsetCPF         = 19
	lenCPF            = 11
	offsetCard        = 30
	lenCard           = 12
	offsetTime        = 42
	lenTime           = 6
	offsetStoreOwner  = 48
	lenStoreOwner     = 14
	offsetStoreName   = 62
	lenStoreName      = 18
)

// Transaction is a single decoded CNAB record. Sign is derived, never
// persisted; IdempotencyKey and FileUploadID are populated by the caller
// (the line processor), not by Decode.
type Transaction struct {
	BankCode       string // raw nature character, legacy artefact
	NatureCode     int
	CPF            string
	Amount         float64 // decimal, cents / 100
	Card           string
	StoreOwner     string
	StoreName      string
	Date           time.Time
	Time           time.Time
	CreatedAt      time.Time
	IdempotencyKey string
	FileUploadID   string
}

// ParseError describes why a single line failed to decode.
type ParseError struct {
	LineIndex int
	Reason    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.LineIndex, e.Reason)
}

// incomeNatures classifies a nature code (1-9) as a credit (+) transaction.
var incomeNatures = map[int]bool{1: true, 4: true, 5: true, 6: true, 7: true, 8: true}

// Sign returns '+' for income natures {1,4,5,6,7,8} and '-' for expense
// natures {2,3,9}. Callers decide whether to apply it to Amount; it is never
// persisted on Transaction itself.
func Sign(natureCode int) rune {
	if incomeNatures[natureCode] {
		return '+'
	}
	return '-'
}

// Decode parses one fixed-width line at the given 0-based index. Decoding is
// strictly positional over bytes, never codepoints: non-ASCII input in a
// numeric or date/time field is a parse failure, not undefined behavior.
func Decode(line []byte, lineIndex int) (*Transaction, error) {
	if len(line) < LineLength {
		return nil, &ParseError{LineIndex: lineIndex, Reason: fmt.Sprintf("short line: %d bytes, want %d", len(line), LineLength)}
	}

	natureField := string(line[offsetNature : offsetNature+lenNature])
	natureCode, err := strconv.Atoi(natureField)
	if err != nil || natureCode < 1 || natureCode > 9 {
		return nil, &ParseError{LineIndex: lineIndex, Reason: "invalid nature code"}
	}

	dateField := string(line[offsetDate : offsetDate+lenDate])
	date, err := time.Parse("20060102", dateField)
	if err != nil {
		return nil, &ParseError{LineIndex: lineIndex, Reason: "invalid date"}
	}

	amountField := string(line[offsetAmount : offsetAmount+lenAmount])
	amountCents, err := strconv.ParseInt(strings.TrimSpace(amountField), 10, 64)
	if err != nil {
		return nil, &ParseError{LineIndex: lineIndex, Reason: "invalid amount"}
	}

	cpf := strings.TrimRight(string(line[offsetCPF:offsetCPF+lenCPF]), " ")
	card := strings.TrimRight(string(line[offsetCard:offsetCard+lenCard]), " ")

	timeField := string(line[offsetTime : offsetTime+lenTime])
	parsedTime, err := time.Parse("150405", timeField)
	if err != nil {
		return nil, &ParseError{LineIndex: lineIndex, Reason: "invalid time"}
	}

	storeOwner := strings.TrimRight(string(line[offsetStoreOwner:offsetStoreOwner+lenStoreOwner]), " ")
	storeName := strings.TrimRight(string(line[offsetStoreName:offsetStoreName+lenStoreName]), " ")

	return &Transaction{
		BankCode:   natureField,
		NatureCode: natureCode,
		CPF:        cpf,
		Amount:     float64(amountCents) / 100.0,
		Card:       card,
		StoreOwner: storeOwner,
		StoreName:  storeName,
		Date:       date,
		Time:       parsedTime,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
