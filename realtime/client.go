package realtime

import (
	"log/slog"
	"room-chat/contract"
	"room-chat/domain"
)

// Client hands out channels that share a single socket.
type Client struct {
	log    *slog.Logger
	socket *Socket
}

func NewClient(log *slog.Logger, config SocketConfig) *Client {
	return &Client{log: log, socket: NewSocket(log, config)}
}

// Channel creates an unsubscribed channel for the given room name.
func (c *Client) Channel(name string, options domain.ChannelOptions) contract.IChannel {
	return newChannel(c.socket, c.log, name, options)
}

// Close releases the socket. Channels become errored.
func (c *Client) Close() error {
	return c.socket.Close()
}
