package whatsapp

import (
	"io"

	"github.com/mdp/qrterminal/v3"
	qrcode "github.com/skip2/go-qrcode"
)

const qrPNGSize = 256

// RenderQR draws a pairing code to an operator terminal.
func RenderQR(w io.Writer, code string) {
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}

// QRPNG encodes a pairing code as a PNG image for UI pollers.
func QRPNG(code string) ([]byte, error) {
	return qrcode.Encode(code, qrcode.Medium, qrPNGSize)
}
