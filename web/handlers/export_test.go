package handlers

// MockClient is a hub client backed by a plain channel.
type MockClient struct {
	SendChan chan []byte
}

func (m *MockClient) getSendChannel() chan []byte { return m.SendChan }

func (m *MockClient) close() {}
