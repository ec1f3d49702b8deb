// Package femas describes the Femas (USTP) futures trading SDK as seen from Go:
// the fixed-width request/response records, the vendor enumerations, the
// trader and market-data API/SPI contracts, and an in-process simulator that
// implements them for development and tests.
package femas

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// Field widths, including the trailing NUL, as laid out in USTPFtdcUserApiStruct.h.
const (
	BrokerIDLen        = 11
	UserIDLen          = 16
	PasswordLen        = 41
	UserProductInfoLen = 41
	AuthCodeLen        = 17
	InvestorIDLen      = 19
	ExchangeIDLen      = 11
	InstrumentIDLen    = 31
	InstrumentNameLen  = 21
	ProductIDLen       = 13
	OrderRefLen        = 13
	OrderSysIDLen      = 31
	TradeIDLen         = 21
	DateLen            = 9
	TimeLen            = 9
	ErrorMsgLen        = 81
	CurrencyLen        = 4
)

// CopyField copies s into the fixed-width field dst the way strncpy(dst, s,
// sizeof(dst)-1) does: at most len(dst)-1 bytes are copied, the remainder of
// dst is zeroed so the field is always NUL terminated. Excess bytes of s are
// dropped.
func CopyField(dst []byte, s string) {
	if len(dst) == 0 {
		return
	}
	n := copy(dst[:len(dst)-1], s)
	clear(dst[n:])
}

// FieldString returns the contents of a fixed-width field up to its first NUL.
func FieldString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// Encoding names accepted by NewDecoder.
const (
	EncodingUTF8 = "utf8"
	EncodingGBK  = "gbk"
)

// Decoder converts vendor free-text fields (error messages, instrument names)
// into UTF-8.
type Decoder interface {
	Decode(b []byte) string
}

// NewDecoder returns the decoder for the given encoding name. An empty name
// selects UTF-8.
func NewDecoder(encoding string) (Decoder, error) {
	switch strings.ToLower(encoding) {
	case "", EncodingUTF8, "utf-8":
		return utf8Decoder{}, nil
	case EncodingGBK, "gb18030":
		return gbkDecoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported vendor encoding: %s", encoding)
	}
}

type utf8Decoder struct{}

func (utf8Decoder) Decode(b []byte) string { return FieldString(b) }

type gbkDecoder struct{}

func (gbkDecoder) Decode(b []byte) string {
	raw := FieldString(b)
	out, err := simplifiedchinese.GBK.NewDecoder().String(raw)
	if err != nil {
		return raw
	}
	return out
}

// EncodeGBK converts UTF-8 text to GBK bytes. The simulator uses it to produce
// messages in the same encoding as a production front.
func EncodeGBK(s string) []byte {
	out, err := simplifiedchinese.GBK.NewEncoder().String(s)
	if err != nil {
		return []byte(s)
	}
	return []byte(out)
}
