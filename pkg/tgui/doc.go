// Package tgui builds Telegram messages in HTML parse mode: escaping
// helpers, a line-oriented builder and small text utilities.
package tgui
