package copier

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"ssw-logmanager/pkg/types"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// chunkOverhead espaço reservado para headers e framing do record
const chunkOverhead = 4 * 1024

// ProducerFactory cria o produtor síncrono para uma lista de brokers
type ProducerFactory func(brokers []string, config *sarama.Config) (sarama.SyncProducer, error)

// KafkaCopier publica o conteúdo de cada arquivo em um tópico. Arquivos
// maiores que o limite de mensagem são divididos em chunks consecutivos com
// os headers "chunk" e "chunks".
type KafkaCopier struct {
	config  *sarama.Config
	factory ProducerFactory
	logger  *logrus.Logger

	mu        sync.Mutex
	producers map[string]sarama.SyncProducer
}

// KafkaTarget destino kafka://broker1:9092,broker2:9092/topic/key
type KafkaTarget struct {
	Brokers []string
	Topic   string
	Key     string
}

// ParseKafkaDestination interpreta um destino kafka://
func ParseKafkaDestination(destination string) (KafkaTarget, error) {
	rest := strings.TrimPrefix(destination, SchemeKafka+"://")
	if rest == destination {
		return KafkaTarget{}, fmt.Errorf("not a kafka destination: %s", destination)
	}

	hosts, p, _ := strings.Cut(rest, "/")
	var target KafkaTarget
	for _, b := range strings.Split(hosts, ",") {
		if b = strings.TrimSpace(b); b != "" {
			target.Brokers = append(target.Brokers, b)
		}
	}
	if len(target.Brokers) == 0 {
		return KafkaTarget{}, fmt.Errorf("kafka destination %q has no brokers", destination)
	}

	topic, key, _ := strings.Cut(strings.Trim(p, "/"), "/")
	if topic == "" {
		return KafkaTarget{}, fmt.Errorf("kafka destination %q has no topic", destination)
	}
	target.Topic = topic
	target.Key = key
	return target, nil
}

// NewKafkaCopier cria o copier Kafka; conexões são abertas sob demanda
func NewKafkaCopier(config types.KafkaConfig, logger *logrus.Logger) (*KafkaCopier, error) {
	saramaConfig, err := buildSaramaConfig(config)
	if err != nil {
		return nil, err
	}
	return &KafkaCopier{
		config:    saramaConfig,
		factory:   sarama.NewSyncProducer,
		logger:    logger,
		producers: make(map[string]sarama.SyncProducer),
	}, nil
}

// SetProducerFactory troca a criação de produtores (usado em testes)
func (c *KafkaCopier) SetProducerFactory(factory ProducerFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factory = factory
}

func buildSaramaConfig(config types.KafkaConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	if config.ClientID != "" {
		saramaConfig.ClientID = config.ClientID
	} else {
		saramaConfig.ClientID = "ssw-logmanager"
	}

	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	if config.RequiredAcks != 0 {
		saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(config.RequiredAcks)
	}

	switch strings.ToLower(config.Compression) {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
		saramaConfig.Version = sarama.V2_1_0_0
	case "", "none":
		saramaConfig.Producer.Compression = sarama.CompressionNone
	default:
		return nil, fmt.Errorf("unsupported kafka compression: %s", config.Compression)
	}

	if config.MaxMessageMB > 0 {
		saramaConfig.Producer.MaxMessageBytes = config.MaxMessageMB * 1024 * 1024
	}

	if config.Timeout != "" {
		timeout, err := time.ParseDuration(config.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid kafka timeout %q: %w", config.Timeout, err)
		}
		saramaConfig.Producer.Timeout = timeout
		saramaConfig.Net.DialTimeout = timeout
		saramaConfig.Net.WriteTimeout = timeout
		saramaConfig.Net.ReadTimeout = timeout
	}

	if config.Auth.Enabled {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = config.Auth.Username
		saramaConfig.Net.SASL.Password = config.Auth.Password

		switch strings.ToUpper(config.Auth.Mechanism) {
		case "", "PLAIN":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: SHA256}
			}
		case "SCRAM-SHA-512":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: SHA512}
			}
		default:
			return nil, fmt.Errorf("unsupported kafka sasl mechanism: %s", config.Auth.Mechanism)
		}
	}

	if config.TLS.Enabled {
		saramaConfig.Net.TLS.Enable = true
		saramaConfig.Net.TLS.Config = &tls.Config{
			InsecureSkipVerify: config.TLS.InsecureSkipVerify,
		}
	}

	if err := saramaConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka configuration: %w", err)
	}
	return saramaConfig, nil
}

func (c *KafkaCopier) producer(brokers []string) (sarama.SyncProducer, error) {
	key := strings.Join(brokers, ",")

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.producers[key]; ok {
		return p, nil
	}
	p, err := c.factory(brokers, c.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer for %s: %w", key, err)
	}
	c.producers[key] = p
	return p, nil
}

// Copy publica o arquivo no tópico do destino
func (c *KafkaCopier) Copy(ctx context.Context, source, destination string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := ParseKafkaDestination(destination)
	if err != nil {
		return err
	}
	key := target.Key
	if key == "" {
		key = filepath.Base(source)
	}

	f, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	chunkSize := c.config.Producer.MaxMessageBytes - chunkOverhead
	if chunkSize <= 0 {
		chunkSize = c.config.Producer.MaxMessageBytes
	}
	chunks := int((info.Size() + int64(chunkSize) - 1) / int64(chunkSize))
	if chunks == 0 {
		chunks = 1
	}

	messages := make([]*sarama.ProducerMessage, 0, chunks)
	for i := 0; i < chunks; i++ {
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return fmt.Errorf("failed to read source: %w", err)
		}
		messages = append(messages, &sarama.ProducerMessage{
			Topic: target.Topic,
			Key:   sarama.StringEncoder(key),
			Value: sarama.ByteEncoder(buf[:n]),
			Headers: []sarama.RecordHeader{
				{Key: []byte("source"), Value: []byte(source)},
				{Key: []byte("path"), Value: []byte(path.Clean("/" + key))},
				{Key: []byte("chunk"), Value: []byte(strconv.Itoa(i))},
				{Key: []byte("chunks"), Value: []byte(strconv.Itoa(chunks))},
				{Key: []byte("mtime"), Value: []byte(info.ModTime().UTC().Format(time.RFC3339Nano))},
			},
		})
	}

	producer, err := c.producer(target.Brokers)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := producer.SendMessages(messages); err != nil {
		return fmt.Errorf("failed to publish %s to topic %s: %w", source, target.Topic, err)
	}

	c.logger.WithFields(logrus.Fields{
		"source": source,
		"topic":  target.Topic,
		"key":    key,
		"chunks": chunks,
	}).Debug("File published to kafka")
	return nil
}

// MkdirAll não se aplica a tópicos
func (c *KafkaCopier) MkdirAll(ctx context.Context, dir string) error {
	return ctx.Err()
}

// Close fecha todos os produtores abertos
func (c *KafkaCopier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for key, p := range c.producers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.producers, key)
	}
	return firstErr
}
