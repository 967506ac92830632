package messaging

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rizkirmdhn/teledl/internal/common/config"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestReject(t *testing.T) {
	base := errors.New("bad payload")

	err := Reject(base)
	assert.True(t, IsReject(err))
	assert.ErrorIs(t, err, base)
	assert.True(t, IsReject(fmt.Errorf("handler: %w", err)))

	assert.False(t, IsReject(base))
	assert.Nil(t, Reject(nil))
}

func TestNewRabbitMQClientValidatesConfig(t *testing.T) {
	log, _ := test.NewNullLogger()

	_, err := NewRabbitMQClient(&config.RabbitMQConfig{}, log)
	assert.Error(t, err)

	_, err = NewRabbitMQClient(&config.RabbitMQConfig{URL: "amqp://localhost"}, log)
	assert.Error(t, err)
}
