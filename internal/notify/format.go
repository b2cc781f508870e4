package notify

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Kiryzsuuu/call-agent/internal/model"
)

var amountPrinter = message.NewPrinter(language.English)

// FormatRupiah renders an amount as "Rp 35,000".
func FormatRupiah(amount float64) string {
	return amountPrinter.Sprintf("Rp %.0f", amount)
}

func orderEmailSubject(sessionID string) string {
	return "Konfirmasi Pesanan - " + model.OrderID(sessionID)
}

func orderEmailBody(order model.OrderDetails) string {
	items := make([]string, len(order.OrderItems))
	for i, item := range order.OrderItems {
		items[i] = "- " + item
	}
	notes := order.Notes
	if notes == "" {
		notes = "Tidak ada"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Halo %s,\n\n", order.CustomerName)
	b.WriteString("Terima kasih atas pesanan Anda!\n\n")
	b.WriteString("Detail Pesanan:\n")
	b.WriteString(strings.Join(items, "\n"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Total: %s\n", FormatRupiah(order.TotalAmount))
	fmt.Fprintf(&b, "Alamat: %s\n", order.DeliveryAddress)
	fmt.Fprintf(&b, "Telepon: %s\n", order.CustomerPhone)
	fmt.Fprintf(&b, "Catatan: %s\n\n", notes)
	b.WriteString("Pesanan sedang diproses dan akan segera diantar.\n\n")
	b.WriteString("Salam,\nTim Opetberjuang\n")
	return b.String()
}

func orderWhatsAppText(order model.OrderDetails) string {
	return fmt.Sprintf("Konfirmasi Pesanan untuk %s\nTelepon: %s\nPesanan: %s\nTotal: %s\nAlamat: %s",
		order.CustomerName,
		order.CustomerPhone,
		strings.Join(order.OrderItems, ", "),
		FormatRupiah(order.TotalAmount),
		order.DeliveryAddress,
	)
}
