// Package wschannel carries the realtime push channel over websockets.
// The Hub is the server half, fanning the durable store's committed
// writes out per conversation; the Channel is the client half behind the
// engine's PushChannel port.
package wschannel
