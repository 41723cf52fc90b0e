package pipeline

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// buildPixQR renders an EMV-BR Code payload for a PIX deposit. The trailing
// CRC field (tag 63) is CRC16-CCITT over the payload including "6304".
func buildPixQR(t TreasuryDetails, amount float64, txid string) string {
	merchantAccount := emvField("00", "BR.GOV.BCB.PIX") + emvField("01", t.PixKey)
	additional := emvField("05", txid)

	var b strings.Builder
	b.WriteString(emvField("00", "01"))            // payload format indicator
	b.WriteString(emvField("26", merchantAccount)) // merchant account info (PIX)
	b.WriteString(emvField("52", "0000"))          // merchant category code
	b.WriteString(emvField("53", "986"))           // currency: BRL
	b.WriteString(emvField("54", decimal.NewFromFloat(amount).StringFixed(2)))
	b.WriteString(emvField("58", "BR"))
	b.WriteString(emvField("59", truncate(t.MerchantName, 25)))
	b.WriteString(emvField("60", truncate(t.MerchantCity, 15)))
	b.WriteString(emvField("62", additional))
	b.WriteString("6304")
	payload := b.String()

	return payload + fmt.Sprintf("%04X", crc16CCITT([]byte(payload)))
}

func emvField(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// crc16CCITT computes CRC16-CCITT (polynomial 0x1021, initial 0xFFFF), the
// checksum the BR Code standard mandates.
func crc16CCITT(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
