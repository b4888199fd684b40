package relay

import (
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"sort"
	"text/tabwriter"
)

// Version relayd 版本，cli 的 --version 也使用它
const Version = "0.3.0"

const banner = `
  _ __ ___| | __ _ _   _
 | '__/ _ \ |/ _' | | | |   relay %s
 | | |  __/ | (_| | |_| |   websocket  ws://%s/ws
 |_|  \___|_|\__,_|\__, |   api        http://%s/api/v1
                   |___/
`

// printBanner 打印 banner 与按路径排序的路由表
func (e *Engine) printBanner(addr string) {
	e.writeBanner(os.Stdout, addr)
}

func (e *Engine) writeBanner(out io.Writer, addr string) {
	host := dialable(addr)
	_, _ = fmt.Fprintf(out, banner, Version, host, host)

	routes := e.router.Routes()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, r := range routes {
		_, _ = fmt.Fprintf(tw, "  %s\t%s\n", r.Method, r.Path)
	}
	_ = tw.Flush()

	_, _ = fmt.Fprintf(out, "\nmode=%s go=%s %s/%s listening on %s\n",
		e.cfg.Mode, runtime.Version(), runtime.GOOS, runtime.GOARCH, addr)
}

// dialable 把通配监听地址换成本机回环地址
func dialable(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
