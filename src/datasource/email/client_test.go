package email

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"DemandForecast/src/config"
	"DemandForecast/src/storage"

	"golang.org/x/text/encoding/simplifiedchinese"
)

type fakeMailService struct {
	emails       []*Email
	connectErr   error
	connected    bool
	disconnected bool
}

func (f *fakeMailService) Connect() error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeMailService) Disconnect() { f.disconnected = true }

func (f *fakeMailService) FetchUnreadEmails() ([]*Email, error) {
	return f.emails, nil
}

func TestCheckAndProcessEmails(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := storage.NewWriterLogger(&buf)

	day := time.Date(2024, 11, 1, 8, 0, 0, 0, time.UTC)
	svc := &fakeMailService{emails: []*Email{
		{UID: 1, Date: day, Subject: "需求数据 旧", Attachments: []*Attachment{{Filename: "old.csv", Content: []byte("old")}}},
		{UID: 2, Date: day.Add(time.Hour), Subject: "周报"},
		{UID: 3, Date: day.Add(2 * time.Hour), Subject: "需求数据 新", Attachments: []*Attachment{
			{Filename: "../generated_orders.csv", Content: []byte("date,sku,zip_code,volume\n")},
			{Filename: "说明.pdf", Content: []byte("%PDF")},
		}},
	}}
	handler := NewAttachmentHandler("需求数据", dir, logger)

	got, saved, err := CheckAndProcessEmails(svc, handler, "需求数据", logger)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.UID != 3 {
		t.Fatalf("processed email = %+v", got)
	}
	if len(saved) != 1 || saved[0] != filepath.Join(dir, "generated_orders.csv") {
		t.Fatalf("saved = %v", saved)
	}
	if _, err := os.Stat(filepath.Join(dir, "说明.pdf")); !os.IsNotExist(err) {
		t.Error("pdf attachment should be skipped")
	}
	if !svc.disconnected {
		t.Error("mail service not disconnected")
	}
	if !handler.IsProcessed(3) || handler.IsProcessed(1) {
		t.Error("processed UIDs mismatch")
	}

	// 同一封邮件不再保存
	_, saved, err = CheckAndProcessEmails(svc, handler, "需求数据", logger)
	if err != nil || len(saved) != 0 {
		t.Errorf("second run saved = %v, err = %v", saved, err)
	}
}

func TestCheckAndProcessEmailsNoTarget(t *testing.T) {
	logger := storage.NewWriterLogger(&bytes.Buffer{})
	handler := NewAttachmentHandler("需求数据", t.TempDir(), logger)

	got, _, err := CheckAndProcessEmails(&fakeMailService{emails: []*Email{{UID: 9, Subject: "周报"}}}, handler, "需求数据", logger)
	if err != nil || got != nil {
		t.Errorf("got = %v, err = %v", got, err)
	}

	connErr := errors.New("dial timeout")
	if _, _, err := CheckAndProcessEmails(&fakeMailService{connectErr: connErr}, handler, "需求数据", logger); !errors.Is(err, connErr) {
		t.Errorf("err = %v, want wrapped connect error", err)
	}
}

func TestParseMessage(t *testing.T) {
	gbk, err := simplifiedchinese.GBK.NewEncoder().String("需求数据")
	if err != nil {
		t.Fatal(err)
	}
	subject := "=?GBK?B?" + base64.StdEncoding.EncodeToString([]byte(gbk)) + "?="

	raw := strings.Join([]string{
		"From: sender@example.com",
		"To: ops@example.com",
		"Subject: " + subject,
		"Date: Fri, 01 Nov 2024 08:00:00 +0800",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="BOUNDARY"`,
		"",
		"--BOUNDARY",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"见附件",
		"--BOUNDARY",
		"Content-Type: text/csv",
		`Content-Disposition: attachment; filename="calendar_features.csv"`,
		"",
		"date,day_of_week,is_weekend,is_holiday",
		"2024-11-01,4,0,1",
		"--BOUNDARY--",
		"",
	}, "\r\n")

	email, err := parseMessage(42, strings.NewReader(raw), nil)
	if err != nil {
		t.Fatal(err)
	}
	if email.UID != 42 || email.Subject != "需求数据" {
		t.Errorf("email = %+v", email)
	}
	if email.Date.IsZero() {
		t.Error("date not parsed")
	}
	if len(email.Attachments) != 1 || email.Attachments[0].Filename != "calendar_features.csv" {
		t.Fatalf("attachments = %+v", email.Attachments)
	}
	if !strings.HasPrefix(string(email.Attachments[0].Content), "date,day_of_week") {
		t.Errorf("content = %q", email.Attachments[0].Content)
	}
}

func TestFilterLatestTargetEmail(t *testing.T) {
	now := time.Now()
	emails := []*Email{
		{UID: 1, Subject: "需求数据", Date: now.Add(-time.Hour)},
		{UID: 2, Subject: "需求数据", Date: now},
		{UID: 3, Subject: "其他", Date: now.Add(time.Hour)},
	}
	if got := filterLatestTargetEmail(emails, "需求数据"); got == nil || got.UID != 2 {
		t.Errorf("got = %+v", got)
	}
	if got := filterLatestTargetEmail(emails, "不存在"); got != nil {
		t.Errorf("got = %+v", got)
	}
}

func TestSendReportValidation(t *testing.T) {
	cfg := &config.Config{}
	if err := SendReport(cfg, "body"); err == nil {
		t.Error("expected missing server error")
	}

	cfg.SendEmail.Server = "smtp.example.com"
	if err := SendReport(cfg, "body"); err == nil {
		t.Error("expected missing recipient error")
	}

	cfg.SendEmail.To = []string{"ops@example.com"}
	err := SendReport(cfg, "body", filepath.Join(t.TempDir(), "missing.csv"))
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}
