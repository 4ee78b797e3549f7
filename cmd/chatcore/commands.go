package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chatcore/internal/errors"
	"chatcore/internal/message"
	"chatcore/internal/models"
	"chatcore/internal/security"
	"chatcore/internal/service"
	"chatcore/internal/transport"
	"chatcore/pkg/chatapi"

	"github.com/spf13/cobra"
)

func newConversationsCmd(flags *globalFlags) *cobra.Command {
	var archived bool
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, done, err := openSession(cmd.Context(), flags, service.Options{})
			if err != nil {
				return err
			}
			defer done()

			list := s.Conversations.List()
			if archived {
				list = s.Conversations.Archived()
			}
			printConversations(cmd.OutOrStdout(), s, list)
			if !archived {
				fmt.Fprintf(cmd.OutOrStdout(), "%d unread\n", s.Conversations.TotalUnread())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&archived, "archived", false, "list archived conversations instead")
	return cmd
}

func newStartCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start <peer-id>",
		Short: "Get or create the direct conversation with a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, done, err := openSession(cmd.Context(), flags, service.Options{})
			if err != nil {
				return err
			}
			defer done()

			conv, err := s.StartConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printConversations(cmd.OutOrStdout(), s, []*models.Conversation{conv})
			return nil
		},
	}
}

func newTailCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tail <conversation-id>",
		Short: "Print the latest messages and follow new ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cid := args[0]
			s, done, err := openSession(cmd.Context(), flags, service.Options{
				OnTyping: func(conversationID string, users []string) {
					if conversationID == cid && len(users) > 0 {
						fmt.Fprintf(out, "... %s typing\n", strings.Join(users, ", "))
					}
				},
			})
			if err != nil {
				return err
			}
			defer done()

			if err := s.OpenConversation(cmd.Context(), cid); err != nil {
				return err
			}
			for _, msg := range s.Messages.Messages(cid) {
				printMessage(out, msg)
			}

			off := s.Socket.On(transport.EventMessageNew, func(payload json.RawMessage) {
				var dto chatapi.MessageDTO
				if err := json.Unmarshal(payload, &dto); err == nil && dto.ConversationID == cid {
					printMessage(out, dto.ToModel())
				}
			})
			defer off()

			<-cmd.Context().Done()
			return nil
		},
	}
}

func newSendCmd(flags *globalFlags) *cobra.Command {
	var file, caption string
	cmd := &cobra.Command{
		Use:   "send <conversation-id> [text]",
		Short: "Send a text message or a document",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" && len(args) < 2 {
				return fmt.Errorf("either text or --file is required")
			}
			s, done, err := openSession(cmd.Context(), flags, service.Options{})
			if err != nil {
				return err
			}
			defer done()

			var msg *models.Message
			if file != "" {
				doc, err := readDocument(file, caption)
				if err != nil {
					return err
				}
				msg, err = s.Messages.SendDocument(cmd.Context(), args[0], doc)
				if err != nil {
					return describeSendError(err)
				}
			} else {
				msg, err = s.Send(cmd.Context(), args[0], args[1])
				if err != nil {
					return describeSendError(err)
				}
			}
			printMessage(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "document to upload")
	cmd.Flags().StringVar(&caption, "caption", "", "caption sent with the document")
	return cmd
}

func newOpenDocumentCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "open-document <conversation-id> <message-id>",
		Short: "Download a document attachment, refreshing its link if it expired",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, done, err := openSession(cmd.Context(), flags, service.Options{})
			if err != nil {
				return err
			}
			defer done()

			cid, mid := args[0], args[1]
			if err := s.OpenConversation(cmd.Context(), cid); err != nil {
				return err
			}
			msg, found := s.Messages.Message(mid)
			for !found && s.Messages.HasMore(cid) {
				if _, err := s.Messages.LoadOlder(cmd.Context(), cid); err != nil {
					return err
				}
				msg, found = s.Messages.Message(mid)
			}
			if !found {
				return errors.NewNotFoundError("message", mid)
			}

			path, err := s.Attachments.Download(cmd.Context(), msg)
			if err != nil {
				return fmt.Errorf("%s: %w", errors.GetUserMessage(err), err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newAcceptCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "accept <conversation-id>",
		Short: "Accept a pending conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, done, err := openSession(cmd.Context(), flags, service.Options{})
			if err != nil {
				return err
			}
			defer done()
			return s.Conversations.Accept(cmd.Context(), args[0])
		},
	}
}

func newReportCmd(flags *globalFlags) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "report <conversation-id>",
		Short: "Report a pending conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, done, err := openSession(cmd.Context(), flags, service.Options{})
			if err != nil {
				return err
			}
			defer done()
			return s.Conversations.Report(cmd.Context(), args[0], reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason shown to moderators")
	return cmd
}

func newArchiveCmd(flags *globalFlags) *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "archive <conversation-id>",
		Short: "Archive or unarchive a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, done, err := openSession(cmd.Context(), flags, service.Options{})
			if err != nil {
				return err
			}
			defer done()
			if undo {
				return s.Conversations.Unarchive(cmd.Context(), args[0])
			}
			return s.Conversations.Archive(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "unarchive instead")
	return cmd
}

func readDocument(path, caption string) (chatapi.Document, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return chatapi.Document{}, err
	}
	data, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return chatapi.Document{}, err
	}
	return chatapi.Document{Name: filepath.Base(path), Data: data, Caption: caption}, nil
}

// describeSendError keeps the unsent input visible so it can be retried
func describeSendError(err error) error {
	if draft, ok := message.DraftFrom(err); ok {
		unsent := draft.Content
		if draft.Document != nil {
			unsent = draft.Document.Name
		}
		return fmt.Errorf("%s (unsent: %q): %w", errors.GetUserMessage(err), unsent, err)
	}
	return err
}

func printConversations(w io.Writer, s *service.Session, list []*models.Conversation) {
	userID := s.UserID()
	for _, conv := range list {
		name := conv.ID
		if peer, ok := conv.Peer(userID); ok && peer.DisplayName != "" {
			name = peer.DisplayName
			if peer.Online {
				name += " *"
			}
		}
		last := ""
		if conv.LastMessage != nil {
			last = conv.LastMessage.Content
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", conv.ID, name, conv.UnreadCount, s.Conversations.StatusLabel(conv.ID), last)
	}
}

func printMessage(w io.Writer, msg *models.Message) {
	body := msg.Content
	if msg.Attachment != nil {
		body = fmt.Sprintf("[%s] %s", msg.Attachment.Name, body)
	}
	if msg.ReplyTo != nil {
		body = fmt.Sprintf("> %s\n  %s", msg.ReplyTo.Content, body)
	}
	fmt.Fprintf(w, "%s %s %s (%s): %s\n", msg.CreatedAt.Local().Format(time.Kitchen), msg.ID, msg.SenderID, msg.Status, body)
}
