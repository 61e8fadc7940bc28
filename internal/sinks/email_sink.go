package sinks

import (
	"bytes"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"ssw-logmanager/internal/metrics"
	"ssw-logmanager/pkg/circuit"
	"ssw-logmanager/pkg/ratelimit"
	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
)

const defaultEmailSubject = "[{level}] {handler} log notification"

// SendMailFunc assinatura de smtp.SendMail, substituível em testes
type SendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailSink envia cada registro como uma mensagem SMTP
type EmailSink struct {
	name     string
	config   types.EmailSinkConfig
	addr     string
	auth     smtp.Auth
	logger   *logrus.Logger
	breaker  *circuit.Breaker
	limiter  *ratelimit.Limiter
	sendMail SendMailFunc

	queue  chan emailMessage
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

type emailMessage struct {
	level     types.Level
	body      string
	timestamp time.Time
}

// NewEmailSink valida a configuração e inicia o remetente
func NewEmailSink(name string, config types.EmailSinkConfig, logger *logrus.Logger) (*EmailSink, error) {
	return newEmailSink(name, config, logger, smtp.SendMail)
}

func newEmailSink(name string, config types.EmailSinkConfig, logger *logrus.Logger, send SendMailFunc) (*EmailSink, error) {
	switch {
	case config.Host == "":
		return nil, fmt.Errorf("handler %s: email host is required", name)
	case config.From == "":
		return nil, fmt.Errorf("handler %s: email sender is required", name)
	case len(config.To) == 0:
		return nil, fmt.Errorf("handler %s: email recipients are required", name)
	}

	port := config.Port
	if port == 0 {
		port = 25
	}

	es := &EmailSink{
		name:     name,
		config:   config,
		addr:     net.JoinHostPort(config.Host, strconv.Itoa(port)),
		logger:   logger,
		sendMail: send,
		breaker: circuit.NewBreaker(circuit.BreakerConfig{
			Name:             "email_" + name,
			FailureThreshold: 3,
			Timeout:          time.Minute,
		}, logger),
		limiter: ratelimit.PerMinute(config.MaxPerMinute),
		queue:   make(chan emailMessage, 100),
	}
	if config.Username != "" {
		es.auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}

	es.breaker.SetStateChangeCallback(publishBreakerState("email_" + name))

	es.wg.Add(1)
	go es.sendLoop()

	return es, nil
}

// Write enfileira a mensagem; com a fila cheia o registro é descartado
func (es *EmailSink) Write(level types.Level, line []byte) error {
	es.mu.RLock()
	defer es.mu.RUnlock()

	if es.closed {
		return fmt.Errorf("email sink %s is closed", es.name)
	}

	if !es.limiter.Allow() {
		metrics.RecordError("email_sink", "rate_limited")
		return fmt.Errorf("email sink %s rate limit exceeded", es.name)
	}

	msg := emailMessage{level: level, body: string(line), timestamp: time.Now()}
	select {
	case es.queue <- msg:
		return nil
	default:
		metrics.RecordError("email_sink", "queue_full")
		return fmt.Errorf("email sink %s queue is full", es.name)
	}
}

func (es *EmailSink) sendLoop() {
	defer es.wg.Done()

	for msg := range es.queue {
		err := es.breaker.Execute(func() error {
			return es.sendMail(es.addr, es.auth, es.config.From, es.config.To, es.render(msg))
		})
		if err != nil {
			metrics.RecordSinkError(es.name, "email")
			es.logger.WithError(err).WithFields(logrus.Fields{
				"handler": es.name,
				"smtp":    es.addr,
			}).Error("Failed to send log email")
		}
	}
}

// render monta a mensagem RFC 5322
func (es *EmailSink) render(msg emailMessage) []byte {
	subject := es.config.Subject
	if subject == "" {
		subject = defaultEmailSubject
	}
	subject = strings.NewReplacer("{level}", msg.level.String(), "{handler}", es.name).Replace(subject)

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", es.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(es.config.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", msg.timestamp.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.TrimRight(msg.body, "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

// Close entrega as mensagens pendentes e para o remetente
func (es *EmailSink) Close() error {
	es.mu.Lock()
	if es.closed {
		es.mu.Unlock()
		return nil
	}
	es.closed = true
	close(es.queue)
	es.mu.Unlock()

	es.wg.Wait()
	return nil
}
