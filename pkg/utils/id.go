package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateSocketID generates a unique socket connection id.
func GenerateSocketID() string {
	return GenerateID("sock")
}

// GenerateTransportID generates a unique transport id.
func GenerateTransportID() string {
	return GenerateID("transport")
}

// GenerateProducerID generates a unique producer id.
func GenerateProducerID() string {
	return GenerateID("producer")
}

// GenerateConsumerID generates a unique consumer id.
func GenerateConsumerID() string {
	return GenerateID("consumer")
}

// GenerateRequestID generates a unique request correlation id.
func GenerateRequestID() string {
	return GenerateID("req")
}

// GenerateID generates a prefixed unique id.
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}
