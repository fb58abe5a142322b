package main

import (
	"log"
	"net"
	"net/http"
	"os"
	"strings"

	"gardenia/internal/actuator"
	"gardenia/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/mdns/v2"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const tokenFile = "ctl_token.txt"

// The controller process runs on the device LAN and executes plug commands
// forwarded by the app process. Callers authenticate with a shared token.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	token, err := loadToken()
	if err != nil {
		log.Fatalf("Failed to load token: %v", err)
	}

	backend := actuator.NewLocalBackend()

	router := gin.Default()

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})

	// Token readout for pairing, loopback only.
	router.GET("/token", func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		if ip == nil || !ip.IsLoopback() {
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	router.POST("/.api/:action", func(c *gin.Context) {
		var req struct {
			Token string           `json:"token" binding:"required"`
			Args  actuator.Request `json:"args"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		if req.Token != token {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		switch c.Param("action") {
		case "test":
			c.JSON(http.StatusOK, gin.H{"ok": true})
		case "plug_state":
			info, err := backend.Apply(c, req.Args)
			if err != nil {
				log.Printf("CTL: plug command failed: %v", err)
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"device_on": info.DeviceOn})
		default:
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown action"})
		}
	})

	go startMDNSServer(cfg.MDNSLocalName)

	if err := router.Run(cfg.CtlListenAddr); err != nil {
		log.Fatalf("Controller server failed: %v", err)
	}
}

// loadToken reads the shared token, minting one on first run.
func loadToken() (string, error) {
	raw, err := os.ReadFile(tokenFile)
	if err == nil && len(strings.TrimSpace(string(raw))) > 0 {
		return strings.TrimSpace(string(raw)), nil
	}
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	token := uuid.NewString()
	if err := os.WriteFile(tokenFile, []byte(token), 0o600); err != nil {
		return "", err
	}
	log.Println("CTL: minted new pairing token")
	return token, nil
}

// startMDNSServer advertises the controller on the local network so the app
// can be pointed at a stable name instead of a DHCP address.
func startMDNSServer(localName string) {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		log.Println("Failed to resolve UDP4 address for mDNS:", err)
		return
	}

	addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6)
	if err != nil {
		log.Println("Failed to resolve UDP6 address for mDNS:", err)
		return
	}

	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		log.Println("Failed to listen on UDP4 for mDNS:", err)
		return
	}

	l6, err := net.ListenUDP("udp6", addr6)
	if err != nil {
		log.Println("Failed to listen on UDP6 for mDNS:", err)
		return
	}

	if _, err := mdns.Server(ipv4.NewPacketConn(l4), ipv6.NewPacketConn(l6), &mdns.Config{
		LocalNames: []string{localName},
	}); err != nil {
		log.Println("Failed to start mDNS server:", err)
		return
	}

	log.Printf("CTL: mDNS advertising %s", localName)
	select {}
}
