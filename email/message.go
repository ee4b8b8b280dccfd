package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Message is a single plain-text email. It's built for one send and never
// stored.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// BuildMessage returns m as a MIME message: a multipart/mixed entity with a
// single text/plain part. The body is quoted-printable encoded so it survives
// servers that reject long lines or 8-bit data.
func BuildMessage(m Message, date time.Time) ([]byte, error) {
	if m.From == "" || m.To == "" {
		return nil, errors.New("must supply a \"to\" address and a \"from\" address")
	}

	var h mail.Header
	h.SetDate(date)
	setAddress(&h, "From", m.From)
	setAddress(&h, "To", m.To)
	h.SetSubject(m.Subject)
	h.SetMessageID(messageID(envelopeAddress(m.From)))

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("can't create the message writer: %w", err)
	}

	var ih mail.InlineHeader
	ih.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	ih.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := mw.CreateSingleInline(ih)
	if err != nil {
		return nil, fmt.Errorf("can't create the text part: %w", err)
	}

	if _, err := io.WriteString(w, m.Body); err != nil {
		return nil, fmt.Errorf("can't write the message body: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("can't finish the text part: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("can't finish the message: %w", err)
	}

	return buf.Bytes(), nil
}

// ParseMessage reads a message produced by BuildMessage (or any message with
// a text/plain part) back into a Message. Only the first address of the From
// and To headers is kept. A header that isn't a valid address list is
// returned as written.
func ParseMessage(r io.Reader) (Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return Message{}, fmt.Errorf("can't read the message: %w", err)
	}
	defer mr.Close()

	var m Message

	m.From, err = address(&mr.Header, "From")
	if err != nil {
		return Message{}, err
	}

	m.To, err = address(&mr.Header, "To")
	if err != nil {
		return Message{}, err
	}

	m.Subject, err = mr.Header.Subject()
	if err != nil {
		return Message{}, fmt.Errorf("can't decode the subject: %w", err)
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Message{}, fmt.Errorf("can't read a message part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, err := h.ContentType()
		if err != nil || ct != "text/plain" {
			continue
		}

		b, err := io.ReadAll(p.Body)
		if err != nil {
			return Message{}, fmt.Errorf("can't read the message body: %w", err)
		}
		m.Body = string(b)
		break
	}

	return m, nil
}

// setAddress writes addr to the header k. An address that doesn't parse is
// written as given rather than rejected, and the server decides what to do
// with it.
func setAddress(h *mail.Header, k string, addr string) {
	a, err := mail.ParseAddress(addr)
	if err != nil {
		h.Set(k, addr)
		return
	}
	h.SetAddressList(k, []*mail.Address{a})
}

// address reads back a header written by setAddress.
func address(h *mail.Header, k string) (string, error) {
	l, err := h.AddressList(k)
	if err == nil && len(l) > 0 {
		if l[0].Name == "" {
			return l[0].Address, nil
		}
		return l[0].Name + " <" + l[0].Address + ">", nil
	}

	v, err := h.Text(k)
	if err != nil {
		return "", fmt.Errorf("can't decode the %v header: %w", k, err)
	}
	return strings.TrimSpace(v), nil
}

// envelopeAddress returns the bare address for MAIL FROM and RCPT TO, so
// "Name <local@domain>" becomes "local@domain". Anything that doesn't parse
// is used as given.
func envelopeAddress(addr string) string {
	a, err := mail.ParseAddress(addr)
	if err != nil {
		return addr
	}
	return a.Address
}

// messageID uses the sender's domain on the right-hand side, falling back to
// localhost when the sender has no domain.
func messageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return uuid.NewString() + "@" + domain
}
