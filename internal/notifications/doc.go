// Package notifications publishes a short ntfy message for each completed
// file.
//
// Notifier is a results sink: the daemon adds it next to the ledger when
// notifications.ntfy_topic is set. Files with failed downloads are sent with
// high priority so they stand out on a phone.
package notifications
