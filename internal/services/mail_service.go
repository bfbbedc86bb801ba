package services

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log"
	"mime"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

//go:embed templates/*.html
var emailTemplates embed.FS

var mailTemplates = template.Must(template.ParseFS(emailTemplates, "templates/*.html"))

type MailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// MailService 通过 SMTP 发送 HTML 邮件
type MailService struct {
	config   MailConfig
	Enabled  bool
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailService(config MailConfig) *MailService {
	enabled := config.Host != "" && config.Port != "" && config.From != ""
	if !enabled {
		log.Println("⚠️ MailService disabled: Missing SMTP environment variables.")
	}

	return &MailService{
		config:   config,
		Enabled:  enabled,
		sendMail: smtp.SendMail,
	}
}

// Send 同步发送一封邮件，未配置 SMTP 时只记录日志
func (s *MailService) Send(email Email) error {
	if !s.Enabled {
		log.Printf("[mail] SMTP disabled, dropping %q to %s", email.Subject, email.To)
		return nil
	}

	msg := s.buildMessage(email)

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}
	addr := fmt.Sprintf("%s:%s", s.config.Host, s.config.Port)

	if err := s.sendMail(addr, auth, s.config.From, []string{email.To}, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", email.To, err)
	}
	log.Printf("✅ Email sent to %s: %s", email.To, email.Subject)
	return nil
}

func (s *MailService) buildMessage(email Email) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
	}

	domain := "localhost"
	if at := strings.LastIndex(s.config.From, "@"); at >= 0 {
		domain = s.config.From[at+1:]
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", email.To)
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", email.Subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domain)

	keys := make([]string, 0, len(email.Headers))
	for k := range email.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&msg, "%s: %s\r\n", k, email.Headers[k])
	}

	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=\"UTF-8\"\r\n")
	fmt.Fprintf(&msg, "\r\n")
	msg.WriteString(email.HTML)
	return msg.Bytes()
}

func renderTemplate(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := mailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

type ReplyNotificationData struct {
	PostTitle      string
	ReplierName    string
	ReplyPreview   string
	CommentURL     string
	UnsubscribeURL string
}

type AdminNotificationData struct {
	PostTitle      string
	CommenterName  string
	CommentPreview string
	CommentURL     string
}
