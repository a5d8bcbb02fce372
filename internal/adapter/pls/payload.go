package pls

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/encoding/korean"

	"github.com/nerrad567/sitewatch-core/internal/adapter"
)

const (
	// maxTextField is the byte limit of one encoded display line or car number.
	maxTextField = 64

	charsetUTF8  = "utf-8"
	charsetEUCKR = "euc-kr"
)

// textEncoder converts display text to the controller's charset.
type textEncoder func(s string) ([]byte, error)

func encoderFor(charset string) textEncoder {
	if strings.EqualFold(charset, charsetEUCKR) {
		return func(s string) ([]byte, error) {
			b, err := korean.EUCKR.NewEncoder().Bytes([]byte(s))
			if err != nil {
				return nil, fmt.Errorf("encoding %q as euc-kr: %w", s, err)
			}
			return b, nil
		}
	}
	return func(s string) ([]byte, error) { return []byte(s), nil }
}

// appendText appends a length-prefixed text field.
func appendText(buf []byte, encode textEncoder, s string) ([]byte, error) {
	b, err := encode(s)
	if err != nil {
		return nil, err
	}
	if len(b) > maxTextField {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFieldTooLong, len(b), maxTextField)
	}
	buf = append(buf, byte(len(b)))
	return append(buf, b...), nil
}

func appendAmount(buf []byte, amount int64) ([]byte, error) {
	if amount < 0 || amount > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return binary.BigEndian.AppendUint32(buf, uint32(amount)), nil
}

// appendTime appends Unix seconds; the zero time encodes as 0.
func appendTime(buf []byte, t time.Time) []byte {
	var secs uint32
	if !t.IsZero() && t.Unix() > 0 {
		secs = uint32(t.Unix())
	}
	return binary.BigEndian.AppendUint32(buf, secs)
}

func displayPayload(encode textEncoder, line1, line2 string) ([]byte, error) {
	buf, err := appendText(nil, encode, line1)
	if err != nil {
		return nil, fmt.Errorf("line 1: %w", err)
	}
	buf, err = appendText(buf, encode, line2)
	if err != nil {
		return nil, fmt.Errorf("line 2: %w", err)
	}
	return buf, nil
}

func paymentInfoPayload(encode textEncoder, info adapter.PaymentInfo) ([]byte, error) {
	buf, err := appendText(nil, encode, info.CarNumber)
	if err != nil {
		return nil, fmt.Errorf("car number: %w", err)
	}
	if buf, err = appendAmount(buf, info.Amount); err != nil {
		return nil, err
	}
	buf = appendTime(buf, info.EntryAt)
	return appendTime(buf, info.ExitAt), nil
}

func paymentRequestPayload(encode textEncoder, carNum string, amount int64) ([]byte, error) {
	buf, err := appendText(nil, encode, carNum)
	if err != nil {
		return nil, fmt.Errorf("car number: %w", err)
	}
	return appendAmount(buf, amount)
}
