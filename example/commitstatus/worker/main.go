// Command worker mirrors dispatch outcomes back to GitLab as commit
// statuses. It follows the notification bus and marks the pushed commit
// running when a build is scheduled and failed when processing failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"

	"buildhook/internal"
	"buildhook/internal/notify"
	"buildhook/pkg/gitlabapi"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	driver := flag.String("driver", "", "Subscriber driver (defaults to the configured notifier driver)")
	statusName := flag.String("status-name", "buildhook", "Name reported on the commit status")
	flag.Parse()

	log.SetPrefix("buildhook/commitstatus-worker ")
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if config.GitLab.Token == "" {
		log.Fatalf("gitlab token is required for commit statuses")
	}

	client, err := gitlabapi.NewClient(config.GitLab)
	if err != nil {
		log.Fatalf("gitlab client: %v", err)
	}

	sub, err := notify.NewSubscriber(config.Notifier, *driver)
	if err != nil {
		log.Fatalf("subscriber: %v", err)
	}
	defer sub.Close()

	topics := map[string]string{
		notify.TopicBuildScheduled: "running",
		notify.TopicEventFailed:    "failed",
	}
	for topic, state := range topics {
		messages, err := sub.Subscribe(ctx, topic)
		if err != nil {
			log.Fatalf("subscribe %s: %v", topic, err)
		}
		go consume(ctx, client, messages, state, *statusName)
	}

	<-ctx.Done()
}

func consume(ctx context.Context, client *gitlabapi.Client, messages <-chan *message.Message, state, name string) {
	for msg := range messages {
		var n notify.Notification
		if err := json.Unmarshal(msg.Payload, &n); err != nil {
			log.Printf("malformed notification: %v", err)
			msg.Ack()
			continue
		}
		projectID, sha := commitRef(n.Raw)
		if projectID == 0 || sha == "" {
			msg.Ack()
			continue
		}
		if err := client.SetCommitStatus(ctx, projectID, sha, state, name, ""); err != nil {
			log.Printf("set status %s on project %d commit %s: %v", state, projectID, sha, err)
			msg.Nack()
			continue
		}
		log.Printf("project=%d commit=%s state=%s", projectID, sha, state)
		msg.Ack()
	}
}

// commitRef pulls the project id and commit SHA out of the flattened
// webhook payload carried on the notification. Both push and merge
// request payloads are understood.
func commitRef(raw json.RawMessage) (int64, string) {
	if len(raw) == 0 {
		return 0, ""
	}
	var flat map[string]interface{}
	if err := json.Unmarshal(raw, &flat); err != nil {
		return 0, ""
	}

	id := numberAt(flat, "project.id")
	if id == 0 {
		id = numberAt(flat, "object_attributes.source_project_id")
	}

	sha := stringAt(flat, "checkout_sha")
	if sha == "" {
		sha = stringAt(flat, "after")
	}
	if sha == "" {
		sha = stringAt(flat, "object_attributes.last_commit.id")
	}
	return id, sha
}

func numberAt(flat map[string]interface{}, key string) int64 {
	switch v := flat[key].(type) {
	case float64:
		return int64(v)
	case string:
		id, _ := strconv.ParseInt(v, 10, 64)
		return id
	default:
		return 0
	}
}

func stringAt(flat map[string]interface{}, key string) string {
	s, _ := flat[key].(string)
	return s
}
