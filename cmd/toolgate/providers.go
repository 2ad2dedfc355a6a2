package main

// Notifier blank imports: each import activates a self-registering
// notification provider for notification.providers.

import (
	_ "github.com/Strob0t/toolgate/internal/adapter/slack"
)
