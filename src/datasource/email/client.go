// client.go
package email

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net"
	"net/smtp"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset" // 非UTF-8邮件头和正文
	"github.com/emersion/go-message/mail"
	"github.com/jordan-wright/email"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"DemandForecast/src/config"
	"DemandForecast/src/storage"
)

const (
	MaxFetchMessages = 100            // 单次最多拉取的邮件数
	UnreadWindow     = 24 * time.Hour // 只看这段时间内的未读邮件
	DefaultSMTPPort  = "465"
)

// MailService 收取输入表邮件的邮箱
type MailService interface {
	Connect() error
	Disconnect()
	FetchUnreadEmails() ([]*Email, error)
}

// EmailHandler 处理目标邮件，返回保存的文件路径
type EmailHandler interface {
	Handle(email *Email) ([]string, error)
}

// Email 解码后的邮件，只保留附件处理需要的字段
type Email struct {
	UID         uint32
	Date        time.Time
	From        string
	Subject     string
	Attachments []*Attachment
}

type Attachment struct {
	Filename string
	Content  []byte
}

// EmailClient 基于IMAP(TLS)的收件客户端，每次检查建立一次会话
type EmailClient struct {
	server   string // 含端口，如 "imap.qq.com:993"
	username string
	password string
	logger   *storage.Logger

	mu sync.Mutex
	c  *client.Client
}

func NewEmailClient(server, username, password string, logger *storage.Logger) *EmailClient {
	return &EmailClient{
		server:   server,
		username: username,
		password: password,
		logger:   logger,
	}
}

// Connect 登录邮箱，旧会话先退出
func (s *EmailClient) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c != nil {
		s.c.Logout()
		s.c = nil
	}

	c, err := client.DialTLS(s.server, nil)
	if err != nil {
		return fmt.Errorf("连接服务器失败: %w", err)
	}
	if err := c.Login(s.username, s.password); err != nil {
		c.Logout()
		return fmt.Errorf("登录失败: %w", err)
	}
	s.c = c
	return nil
}

func (s *EmailClient) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c != nil {
		s.c.Logout()
		s.c = nil
	}
}

// FetchUnreadEmails 按UID拉取收件箱中最近的未读邮件
func (s *EmailClient) FetchUnreadEmails() ([]*Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c == nil {
		return nil, fmt.Errorf("未连接到邮件服务器")
	}
	if _, err := s.c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("选择邮箱失败: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Since = time.Now().Add(-UnreadWindow)
	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("搜索邮件失败: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	// 保留最新的一批
	if len(uids) > MaxFetchMessages {
		uids = uids[len(uids)-MaxFetchMessages:]
	}

	set := new(imap.SeqSet)
	set.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(set, []imap.FetchItem{imap.FetchUid, section.FetchItem()}, messages)
	}()

	var emails []*Email
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			s.logger.Warning(fmt.Sprintf("邮件(UID:%d)正文为空", msg.Uid))
			continue
		}
		e, err := parseMessage(msg.Uid, body, s.logger)
		if err != nil {
			s.logger.Warning(fmt.Sprintf("解析邮件(UID:%d)失败: %v", msg.Uid, err))
			continue
		}
		emails = append(emails, e)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("获取邮件内容失败: %w", err)
	}
	return emails, nil
}

// parseMessage 解析邮件头，收集带文件名的附件
func parseMessage(uid uint32, r io.Reader, logger *storage.Logger) (*Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("创建邮件阅读器失败: %w", err)
	}

	date, _ := mr.Header.Date()
	e := &Email{
		UID:     uid,
		Date:    date,
		From:    decodeHeader(mr.Header.Get("From")),
		Subject: decodeHeader(mr.Header.Get("Subject")),
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warning(fmt.Sprintf("跳过无法解析的邮件部分: %v", err))
			break
		}
		h, ok := p.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		att, err := readAttachment(h, p.Body)
		if err != nil {
			logger.Warning(fmt.Sprintf("解析附件失败: %v", err))
			continue
		}
		e.Attachments = append(e.Attachments, att)
	}
	return e, nil
}

func readAttachment(h *mail.AttachmentHeader, body io.Reader) (*Attachment, error) {
	filename, err := h.Filename()
	if err != nil || filename == "" {
		return nil, fmt.Errorf("无效的附件名")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, fmt.Errorf("读取附件%s失败: %w", filename, err)
	}
	return &Attachment{Filename: decodeHeader(filename), Content: buf.Bytes()}, nil
}

var headerDecoder = mime.WordDecoder{CharsetReader: charsetReader}

// decodeHeader 解码 =?charset?encoding?text?= 形式的邮件头，失败时原样返回
func decodeHeader(header string) string {
	decoded, err := headerDecoder.DecodeHeader(header)
	if err != nil {
		return header
	}
	return decoded
}

// charsetReader 国内邮箱常见的GBK系编码转UTF-8
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "gbk", "gb2312":
		return transform.NewReader(input, simplifiedchinese.GBK.NewDecoder()), nil
	case "gb18030":
		return transform.NewReader(input, simplifiedchinese.GB18030.NewDecoder()), nil
	default:
		return input, nil
	}
}

// SendReport 通过SMTP(TLS)把导出的特征表作为附件发送给 send_email.to
func SendReport(c *config.Config, body string, attachments ...string) error {
	sc := c.SendEmail
	if sc.Server == "" {
		return fmt.Errorf("未配置SMTP服务器")
	}
	if len(sc.To) == 0 {
		return fmt.Errorf("未配置收件人")
	}

	e := email.NewEmail()
	e.From = fmt.Sprintf("DemandForecast <%s>", sc.Username)
	e.To = sc.To
	e.Subject = sc.Subject
	if e.Subject == "" {
		e.Subject = "需求预测特征表"
	}
	e.Text = []byte(body)

	for _, path := range attachments {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("附件文件不存在: %w", err)
		}
		if _, err := e.AttachFile(path); err != nil {
			return fmt.Errorf("附件添加失败: %w", err)
		}
	}

	// 确保服务器地址包含端口
	addr := sc.Server
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, DefaultSMTPPort)
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("SMTP地址错误: %w", err)
	}

	err = e.SendWithTLS(
		addr,
		smtp.PlainAuth("", sc.Username, sc.Password, host),
		&tls.Config{ServerName: host},
	)
	if err != nil {
		return fmt.Errorf("邮件发送失败(Server: %s): %w", addr, err)
	}
	return nil
}

// CheckAndProcessEmails 连接邮箱，找出主题包含keyword的最新未读邮件并交给handler
// 返回处理的邮件(没有目标邮件时为nil)和保存的文件
func CheckAndProcessEmails(mailService MailService, handler EmailHandler, keyword string, logger *storage.Logger) (*Email, []string, error) {
	startTime := time.Now()
	logger.Info("开始检查邮箱...")

	if err := mailService.Connect(); err != nil {
		return nil, nil, fmt.Errorf("连接失败: %w", err)
	}
	defer mailService.Disconnect() // 确保连接关闭

	emails, err := mailService.FetchUnreadEmails()
	if err != nil {
		return nil, nil, fmt.Errorf("获取邮件失败: %w", err)
	}

	if len(emails) == 0 {
		logger.Info("没有新邮件")
		return nil, nil, nil
	}

	targetEmail := filterLatestTargetEmail(emails, keyword)
	if targetEmail == nil {
		logger.Info("没有目标邮件")
		return nil, nil, nil
	}

	saved, err := handler.Handle(targetEmail)
	if err != nil {
		return targetEmail, saved, fmt.Errorf("处理邮件失败(UID:%d): %w", targetEmail.UID, err)
	}

	logger.Info(fmt.Sprintf("处理完成，保存%d个附件，耗时: %v", len(saved), time.Since(startTime)))
	return targetEmail, saved, nil
}

// filterLatestTargetEmail 返回主题包含keyword的最新邮件
func filterLatestTargetEmail(emails []*Email, keyword string) *Email {
	var latest *Email
	for _, e := range emails {
		if !strings.Contains(e.Subject, keyword) {
			continue
		}
		if latest == nil || e.Date.After(latest.Date) {
			latest = e
		}
	}
	return latest
}
