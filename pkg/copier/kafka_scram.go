package copier

import (
	"crypto/sha256"
	"crypto/sha512"

	"github.com/xdg-go/scram"
)

var (
	// SHA256 é o gerador de hash SHA256
	SHA256 scram.HashGeneratorFcn = sha256.New

	// SHA512 é o gerador de hash SHA512
	SHA512 scram.HashGeneratorFcn = sha512.New
)

// scramClient implementa sarama.SCRAMClient usando xdg-go/scram
type scramClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

// Begin inicia uma nova conversa SCRAM
func (x *scramClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

// Step processa um step da autenticação SCRAM
func (x *scramClient) Step(challenge string) (string, error) {
	return x.ClientConversation.Step(challenge)
}

// Done verifica se a autenticação SCRAM está completa
func (x *scramClient) Done() bool {
	return x.ClientConversation.Done()
}
