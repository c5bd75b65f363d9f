// Package redis provides the optional Redis transport for profile change
// events. Writes made through PublishingStore are fanned out on a pub/sub
// channel and ChangeFeed turns that channel back into change events.
package redis
