// Command dnsstub answers the _escrow TXT advertisement for one overlay
// domain. Development aid for exercising DNS endpoint discovery without
// editing a real zone.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/miekg/dns"
)

func main() {
	var (
		domain     = flag.String("domain", "overlay.local", "Overlay domain advertised under _escrow.<domain>")
		lookupURL  = flag.String("lookup", "http://127.0.0.1:8080", "Advertised lookup service URL")
		headersURL = flag.String("headers", "", "Advertised headers service URL (optional)")
		listenAddr = flag.String("listen", "127.0.0.1:8053", "Address to listen on (ip:port)")
		ttlSeconds = flag.Int("ttl", 60, "TXT record TTL in seconds")
	)
	flag.Parse()

	name := strings.TrimSpace(*domain)
	if name == "" {
		log.Fatal("overlay domain is empty")
	}
	endpoint := strings.TrimSpace(*lookupURL)
	if endpoint == "" {
		log.Fatal("advertised lookup URL is empty")
	}
	fqdn := dns.Fqdn("_escrow." + name)
	txtValue := "v=escrow1 lookup=" + endpoint
	if headers := strings.TrimSpace(*headersURL); headers != "" {
		txtValue += " headers=" + headers
	}

	handler := func(w dns.ResponseWriter, r *dns.Msg) {
		msg := &dns.Msg{}
		msg.SetReply(r)
		msg.Authoritative = true

		if len(r.Question) == 0 {
			_ = w.WriteMsg(msg)
			return
		}

		question := r.Question[0]
		switch question.Qtype {
		case dns.TypeTXT:
			if strings.EqualFold(question.Name, fqdn) {
				rr := &dns.TXT{Hdr: dns.RR_Header{Name: fqdn, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: uint32(*ttlSeconds)}, Txt: []string{txtValue}}
				msg.Answer = append(msg.Answer, rr)
			} else {
				msg.Rcode = dns.RcodeNameError
			}
		default:
			msg.Rcode = dns.RcodeNotImplemented
		}

		if err := w.WriteMsg(msg); err != nil {
			log.Printf("failed to write DNS response: %v", err)
		}
	}

	dns.HandleFunc(".", handler)

	server := &dns.Server{Addr: *listenAddr, Net: "udp"}
	go func() {
		log.Printf("escrow DNS stub listening on %s for %s", *listenAddr, fqdn)
		if err := server.ListenAndServe(); err != nil {
			log.Fatalf("dns server error: %v", err)
		}
	}()

	tcpServer := &dns.Server{Addr: *listenAddr, Net: "tcp"}
	go func() {
		if err := tcpServer.ListenAndServe(); err != nil {
			log.Fatalf("dns tcp server error: %v", err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = server.ShutdownContext(shutdownCtx)
	_ = tcpServer.ShutdownContext(shutdownCtx)
	log.Println("escrow DNS stub shut down")
}
